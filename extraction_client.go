package cardworker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultExtractorURL     = "http://localhost:8000/extract"
	DefaultExtractorTimeout = 60 * time.Second
	extractorFileField      = "file"
	maxDetailBytes          = 4096
)

// Extractor forwards a finished artifact to the remote extraction service.
type Extractor interface {
	Extract(ctx context.Context, payload []byte, filename string, contentType string) (json.RawMessage, error)
}

type ExtractorConfig struct {
	URL                string
	Timeout            time.Duration
	InsecureSkipVerify bool
	UserAgent          string
}

func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		URL:       DefaultExtractorURL,
		Timeout:   DefaultExtractorTimeout,
		UserAgent: "open-card/1.0",
	}
}

// ExtractionClient makes exactly one attempt per call; callers see every
// failure immediately.
type ExtractionClient struct {
	config ExtractorConfig
	client *http.Client
}

func NewExtractionClient(config ExtractorConfig) *ExtractionClient {
	if config.Timeout <= 0 {
		config.Timeout = DefaultExtractorTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.InsecureSkipVerify {
		log.Warn().Str("component", "CARD_EXTRACTOR").Str("url", config.URL).
			Msg("certificate verification of the extraction service is disabled")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}
	return &ExtractionClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout, Transport: transport},
	}
}

func (c *ExtractionClient) Extract(ctx context.Context, payload []byte, filename string, contentType string) (json.RawMessage, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, extractorFileField, escapeQuotes(filename)))
	partHeader.Set("Content-Type", contentType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return nil, &ExtractionError{Detail: err.Error()}
	}
	if _, err = part.Write(payload); err != nil {
		return nil, &ExtractionError{Detail: err.Error()}
	}
	if err = writer.Close(); err != nil {
		return nil, &ExtractionError{Detail: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, body)
	if err != nil {
		return nil, &ExtractionError{Detail: err.Error()}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	log.Debug().Str("component", "CARD_EXTRACTOR").Str("url", c.config.URL).
		Str("filename", filename).Str("contentType", contentType).Int("bytes", len(payload)).
		Msg("sending document to extraction service")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("component", "CARD_EXTRACTOR").Msg("extraction service did not respond")
		return nil, &ExtractionError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExtractionError{StatusCode: resp.StatusCode, Detail: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Str("component", "CARD_EXTRACTOR").Int("status", resp.StatusCode).
			Msg("extraction service rejected the document")
		detail := decodeDetail(respBody)
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return nil, &ExtractionError{StatusCode: resp.StatusCode, Detail: detail}
	}

	if !json.Valid(respBody) {
		return nil, &ExtractionError{
			StatusCode: resp.StatusCode,
			Detail:     "response is not JSON: " + decodeDetail(respBody),
		}
	}
	return json.RawMessage(respBody), nil
}

// decodeDetail renders an error body as compact JSON when it parses, else as
// trimmed raw text.
func decodeDetail(body []byte) string {
	compact := &bytes.Buffer{}
	if err := json.Compact(compact, body); err == nil {
		return truncate(compact.String(), maxDetailBytes)
	}
	return truncate(strings.TrimSpace(string(body)), maxDetailBytes)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
