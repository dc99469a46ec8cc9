package cardworker

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

const (
	uploadField          = "file"
	defaultMaxUploadSize = 20 << 20
	multipartMemory      = 8 << 20
)

// ServiceState tells the front end whether new documents may be taken.
type ServiceState struct {
	mutex     deadlock.RWMutex
	canAccept bool
	stopping  bool
}

func NewServiceState(canAccept bool) *ServiceState {
	return &ServiceState{canAccept: canAccept}
}

func (s *ServiceState) SetCanAccept(canAccept bool) {
	s.mutex.Lock()
	s.canAccept = canAccept
	s.mutex.Unlock()
}

func (s *ServiceState) CanAccept() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.canAccept
}

// Stop closes the service for good; the resource manager can no longer reopen it.
func (s *ServiceState) Stop() {
	s.mutex.Lock()
	s.stopping = true
	s.mutex.Unlock()
}

// refusal returns the reason for turning a request away, or nil.
func (s *ServiceState) refusal() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	switch {
	case s.stopping:
		return errors.New("service is going down")
	case !s.canAccept:
		return errors.New("no resources available to process the request")
	}
	return nil
}

// CardHttpHandler accepts one multipart upload per request and answers with the
// extraction envelope.
type CardHttpHandler struct {
	dispatcher     Dispatcher
	state          *ServiceState
	maxUploadBytes int64
}

func NewCardHttpHandler(dispatcher Dispatcher, state *ServiceState, maxUploadBytes int64) *CardHttpHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadSize
	}
	return &CardHttpHandler{
		dispatcher:     dispatcher,
		state:          state,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *CardHttpHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			log.Warn().Err(err).Str("component", "CARD_HTTP").Msg(req.RequestURI + " request Body could not be closed")
		}
	}(req.Body)

	if req.Method != http.MethodPost {
		http.Error(w, "this endpoint only accepts POST requests", http.StatusMethodNotAllowed)
		return
	}

	if err := h.state.refusal(); err != nil {
		log.Warn().Str("component", "CARD_HTTP").Err(err).
			Msg("conditions for accepting new requests are not met")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	req.Body = http.MaxBytesReader(w, req.Body, h.maxUploadBytes)
	file, header, err := req.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "upload exceeds the size limit", http.StatusRequestEntityTooLarge)
			return
		}
		log.Warn().Str("component", "CARD_HTTP").Err(err).Msg("did the client send a multipart upload?")
		http.Error(w, "expected a multipart upload with a file field named "+uploadField, http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := header.Filename
	if !AllowedExtension(FileExtension(filename)) {
		log.Info().Str("component", "CARD_HTTP").Str("filename", filename).Msg("rejected file type")
		writeEnvelope(w, InvalidFileTypeEnvelope())
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		writeEnvelope(w, UnhandledFailureEnvelope(errors.Wrap(err, "read upload")))
		return
	}

	log.Info().Str("component", "CARD_HTTP").Str("filename", filename).Int("bytes", len(raw)).
		Msg("document received")
	writeEnvelope(w, ProcessDocument(req.Context(), h.dispatcher, raw, filename))
}

func writeEnvelope(w http.ResponseWriter, envelope ExtractionEnvelope) {
	js, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Str("component", "CARD_HTTP").Msg("error marshaling envelope")
		http.Error(w, "unable to encode the result", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Warn().Err(err).Str("component", "CARD_HTTP").Msg("client went away before the answer was written")
	}
}
