package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	cardworker "github.com/xf0e/open-card"
)

// Uploads one document to a running open-card and checks the exchange against
// the OpenAPI document, eg:
// check_request -url http://localhost:8080/process -file aadhaar.jpg

func multipartBody(path string) ([]byte, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err = part.Write(raw); err != nil {
		return nil, "", err
	}
	if err = writer.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}

func newRequest(ctx context.Context, url string, body []byte, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return req, nil
}

func main() {
	var (
		url     string
		file    string
		timeout time.Duration
	)
	flag.StringVar(&url, "url", "http://localhost:8080/process", "the open-card process endpoint")
	flag.StringVar(&file, "file", "", "the document to upload")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the answer")
	flag.Parse()

	if file == "" {
		log.Fatal().Str("component", "CHECK_REQUEST").Msg("-file is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	contract, err := cardworker.NewApiContract(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("component", "CHECK_REQUEST").Msg("could not load the api contract")
	}

	body, contentType, err := multipartBody(file)
	if err != nil {
		log.Fatal().Err(err).Str("component", "CHECK_REQUEST").Msg("could not read the document")
	}

	checked, err := newRequest(ctx, url, body, contentType)
	if err != nil {
		log.Fatal().Err(err).Str("component", "CHECK_REQUEST").Msg("bad url")
	}
	if err = contract.ValidateRequest(ctx, checked); err != nil {
		log.Warn().Err(err).Str("component", "CHECK_REQUEST").Msg("request does not match the contract")
	}

	req, _ := newRequest(ctx, url, body, contentType)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal().Err(err).Str("component", "CHECK_REQUEST").Msg("request failed")
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal().Err(err).Str("component", "CHECK_REQUEST").Msg("could not read the response")
	}

	log.Info().Str("component", "CHECK_REQUEST").Int("status", resp.StatusCode).
		Str("body", string(bytes.TrimSpace(respBody))).Msg("Response")

	if err = contract.ValidateResponse(ctx, checked, resp.StatusCode, resp.Header, respBody); err != nil {
		log.Fatal().Err(err).Str("component", "CHECK_REQUEST").Msg("response does not match the contract")
	}
	log.Info().Str("component", "CHECK_REQUEST").Msg("exchange matches the contract")
}
