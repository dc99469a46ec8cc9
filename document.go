package cardworker

import (
	"strings"

	"github.com/segmentio/ksuid"
)

const (
	ExtensionPDF  = "pdf"
	ExtensionJPG  = "jpg"
	ExtensionJPEG = "jpeg"
	ExtensionPNG  = "png"

	defaultFilename = "file"
)

var allowedExtensions = map[string]bool{
	ExtensionPDF:  true,
	ExtensionJPG:  true,
	ExtensionJPEG: true,
	ExtensionPNG:  true,
}

// SubmittedDocument is the immutable input of one pipeline run.
type SubmittedDocument struct {
	RequestID         string `json:"request_id"`
	Bytes             []byte `json:"bytes"`
	Filename          string `json:"filename"`
	DeclaredExtension string `json:"declared_extension"`
}

// NewSubmittedDocument derives the declared extension from the filename and
// assigns a request id. An empty filename becomes "file".
func NewSubmittedDocument(raw []byte, filename string) SubmittedDocument {
	ext := FileExtension(filename)
	if filename == "" {
		filename = defaultFilename
	}
	return SubmittedDocument{
		RequestID:         ksuid.New().String(),
		Bytes:             raw,
		Filename:          filename,
		DeclaredExtension: ext,
	}
}

// FileExtension returns the lower-cased final dot separated segment of filename.
// A name without a dot is its own final segment, so "scan" yields "scan".
func FileExtension(filename string) string {
	if filename == "" {
		return ""
	}
	idx := strings.LastIndex(filename, ".")
	return strings.ToLower(filename[idx+1:])
}

// AllowedExtension reports whether ext is one of pdf, jpg, jpeg or png.
func AllowedExtension(ext string) bool {
	return allowedExtensions[strings.ToLower(ext)]
}
