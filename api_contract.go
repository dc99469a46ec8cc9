package cardworker

import (
	"bytes"
	"context"
	_ "embed"
	"io"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
	"github.com/pkg/errors"
)

//go:embed openapi.json
var openAPIDocument []byte

// OpenAPIDocument returns the OpenAPI 3 description of the http front.
func OpenAPIDocument() []byte {
	return openAPIDocument
}

// ApiContract checks http exchanges against the OpenAPI document.
type ApiContract struct {
	doc    *openapi3.T
	router routers.Router
}

func NewApiContract(ctx context.Context) (*ApiContract, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(openAPIDocument)
	if err != nil {
		return nil, errors.Wrap(err, "load openapi document")
	}
	if err = doc.Validate(ctx); err != nil {
		return nil, errors.Wrap(err, "invalid openapi document")
	}
	router, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, errors.Wrap(err, "build openapi router")
	}
	return &ApiContract{doc: doc, router: router}, nil
}

func (c *ApiContract) requestInput(req *http.Request) (*openapi3filter.RequestValidationInput, error) {
	route, pathParams, err := c.router.FindRoute(req)
	if err != nil {
		return nil, errors.Wrapf(err, "no route for %s %s", req.Method, req.URL.Path)
	}
	return &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
	}, nil
}

// ValidateRequest checks an outgoing request. The body is put back for sending.
func (c *ApiContract) ValidateRequest(ctx context.Context, req *http.Request) error {
	input, err := c.requestInput(req)
	if err != nil {
		return err
	}
	return openapi3filter.ValidateRequest(ctx, input)
}

// ValidateResponse checks the answer the service gave to req.
func (c *ApiContract) ValidateResponse(ctx context.Context, req *http.Request, status int, header http.Header, body []byte) error {
	input, err := c.requestInput(req)
	if err != nil {
		return err
	}
	responseInput := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: input,
		Status:                 status,
		Header:                 header,
		Body:                   io.NopCloser(bytes.NewReader(body)),
	}
	return openapi3filter.ValidateResponse(ctx, responseInput)
}
