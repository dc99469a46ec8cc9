package cardworker

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/couchbaselabs/go.assert"
)

// recordingDispatcher answers every document with a fixed envelope.
type recordingDispatcher struct {
	envelope ExtractionEnvelope
	docs     []SubmittedDocument
}

func (r *recordingDispatcher) Submit(doc SubmittedDocument) *Future {
	r.docs = append(r.docs, doc)
	future := newFuture()
	future.resolve(r.envelope, nil)
	return future
}

func uploadRequest(t *testing.T, field, filename string, payload []byte) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	assert.True(t, err == nil)
	_, err = part.Write(payload)
	assert.True(t, err == nil)
	assert.True(t, writer.Close() == nil)

	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ExtractionEnvelope {
	var envelope ExtractionEnvelope
	err := json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.True(t, err == nil)
	return envelope
}

func TestHttpHandlerProcessesUpload(t *testing.T) {
	dispatcher := &recordingDispatcher{envelope: successEnvelope(json.RawMessage(`{"id":"1"}`), nil)}
	handler := NewCardHttpHandler(dispatcher, NewServiceState(true), 0)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, "file", "Front.JPG", []byte("jpeg bytes")))

	assert.Equals(t, rec.Code, http.StatusOK)
	assert.Equals(t, rec.Header().Get("Content-Type"), "application/json")
	envelope := decodeEnvelope(t, rec)
	assert.Equals(t, envelope.Status, StatusSuccess)
	assert.Equals(t, len(dispatcher.docs), 1)
	assert.Equals(t, dispatcher.docs[0].DeclaredExtension, "jpg")
	assert.Equals(t, dispatcher.docs[0].Filename, "Front.JPG")
}

func TestHttpHandlerRejectsFileTypes(t *testing.T) {
	for _, filename := range []string{"scan.tiff", "noextension", "archive.pdf.zip"} {
		dispatcher := &recordingDispatcher{}
		rec := httptest.NewRecorder()
		NewCardHttpHandler(dispatcher, NewServiceState(true), 0).
			ServeHTTP(rec, uploadRequest(t, "file", filename, []byte("x")))

		assert.Equals(t, rec.Code, http.StatusOK)
		envelope := decodeEnvelope(t, rec)
		assert.Equals(t, envelope.Status, StatusFailure)
		assert.Equals(t, envelope.Reason, ReasonInvalidFileType)
		assert.Equals(t, len(dispatcher.docs), 0)
	}
}

func TestHttpHandlerRequiresFileField(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCardHttpHandler(&recordingDispatcher{}, NewServiceState(true), 0).
		ServeHTTP(rec, uploadRequest(t, "document", "card.png", []byte("x")))
	assert.Equals(t, rec.Code, http.StatusBadRequest)
}

func TestHttpHandlerMethodAndState(t *testing.T) {
	state := NewServiceState(false)
	handler := NewCardHttpHandler(&recordingDispatcher{}, state, 0)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/process", nil))
	assert.Equals(t, rec.Code, http.StatusMethodNotAllowed)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, "file", "card.png", []byte("x")))
	assert.Equals(t, rec.Code, http.StatusServiceUnavailable)
	assert.True(t, strings.Contains(rec.Body.String(), "no resources"))

	state.SetCanAccept(true)
	state.Stop()
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, "file", "card.png", []byte("x")))
	assert.Equals(t, rec.Code, http.StatusServiceUnavailable)
	assert.True(t, strings.Contains(rec.Body.String(), "going down"))
}

func TestHttpHandlerUploadLimit(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	rec := httptest.NewRecorder()
	NewCardHttpHandler(dispatcher, NewServiceState(true), 1024).
		ServeHTTP(rec, uploadRequest(t, "file", "card.png", bytes.Repeat([]byte("x"), 4096)))
	assert.True(t, rec.Code == http.StatusRequestEntityTooLarge || rec.Code == http.StatusBadRequest)
	assert.Equals(t, len(dispatcher.docs), 0)
}

func TestHttpHandlerEndToEndWithPool(t *testing.T) {
	extractor := &stubExtractor{data: json.RawMessage(`{"name":"x"}`)}
	pool := NewWorkerPool(pipelineForTests(extractor, nil), mockFactory(), 1)
	defer pool.Shutdown()

	handler := InstrumentHttpHandler(NewCardHttpHandler(pool, NewServiceState(true), 0))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, "file", "card.png", pngBytes(cardImage())))

	envelope := decodeEnvelope(t, rec)
	assert.Equals(t, envelope.Status, StatusSuccess)
	assert.Equals(t, envelope.Rotation.BestAngle, 0)
	assert.Equals(t, len(envelope.Rotation.PerAngle), 3)
}

func TestLandingPage(t *testing.T) {
	state := NewServiceState(true)
	assert.True(t, strings.Contains(GenerateLandingPage("local", state), "Status: RUNNING"))
	state.Stop()
	assert.True(t, strings.Contains(GenerateLandingPage("local", state), "going down"))
}

func TestHttpAnswersMatchContract(t *testing.T) {
	ctx := context.Background()
	contract, err := NewApiContract(ctx)
	assert.True(t, err == nil)

	extractor := &stubExtractor{data: json.RawMessage(`{"name":"x"}`)}
	pool := NewWorkerPool(pipelineForTests(extractor, nil), mockFactory(), 1)
	defer pool.Shutdown()
	handler := NewCardHttpHandler(pool, NewServiceState(true), 0)

	uploads := []struct {
		filename string
		payload  []byte
	}{
		{"card.png", pngBytes(cardImage())},
		{"blank.png", pngBytes(blankImage(600, 380, color.White))},
		{"broken.jpg", []byte("garbage")},
		{"scan.tiff", []byte("x")},
	}
	for _, upload := range uploads {
		req := uploadRequest(t, "file", upload.filename, upload.payload)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		err = contract.ValidateResponse(ctx, req, rec.Code, rec.Header(), rec.Body.Bytes())
		if err != nil {
			t.Errorf("%s: %v", upload.filename, err)
		}
	}
}
