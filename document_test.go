package cardworker

import (
	"testing"

	"github.com/couchbaselabs/go.assert"
)

func TestFileExtension(t *testing.T) {
	assert.Equals(t, FileExtension("Front.JPG"), "jpg")
	assert.Equals(t, FileExtension("scan.final.pdf"), "pdf")
	assert.Equals(t, FileExtension("scan"), "scan")
	assert.Equals(t, FileExtension("trailing."), "")
	assert.Equals(t, FileExtension(""), "")
}

func TestAllowedExtension(t *testing.T) {
	for _, ext := range []string{"pdf", "jpg", "jpeg", "png", "PNG"} {
		assert.True(t, AllowedExtension(ext))
	}
	for _, ext := range []string{"", "tiff", "gif", "pdf.zip"} {
		assert.False(t, AllowedExtension(ext))
	}
}

func TestNewSubmittedDocument(t *testing.T) {
	doc := NewSubmittedDocument([]byte("abc"), "")
	assert.Equals(t, doc.Filename, "file")
	assert.Equals(t, doc.DeclaredExtension, "")
	assert.True(t, doc.RequestID != "")

	other := NewSubmittedDocument([]byte("abc"), "Card.Png")
	assert.Equals(t, other.DeclaredExtension, "png")
	assert.True(t, other.RequestID != doc.RequestID)
}

func TestDetectFileType(t *testing.T) {
	assert.Equals(t, detectFileType(minimalPDF(1)), FileTypePDF)
	assert.Equals(t, detectFileType(pngBytes(tinyCardImage())), FileTypePNG)
	assert.Equals(t, detectFileType([]byte{0xFF, 0xD8, 0xFF, 0xE0}), FileTypeJPEG)
	assert.Equals(t, detectFileType([]byte("hello")), FileTypeUnknown)
}
