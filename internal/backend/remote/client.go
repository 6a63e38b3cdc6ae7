// Package remote talks to an out-of-process classifier service over HTTP.
// Every backend call maps to one request; the service owns the trained
// instances and this package only holds their ids.
package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"cc-classifier/internal/classifier"
)

type Backend struct {
	base string
	rest *resty.Client
}

func New(base string, timeout time.Duration) *Backend {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	r.SetHeader("Content-Type", "application/json")
	return &Backend{base: base, rest: r}
}

type runtimeReq struct {
	SearchPath string `json:"search_path"`
}

type constructReq struct {
	Module string   `json:"module"`
	Class  string   `json:"class"`
	Files  []string `json:"files"`
}

type constructResp struct {
	ID string `json:"id"`
}

type predictReq struct {
	Features []float64 `json:"features"`
}

type predictResp struct {
	Result json.RawMessage `json:"result"`
}

type probabilityResp struct {
	Value *float64 `json:"value"`
}

type apiError struct {
	Error string `json:"error"`
}

func (b *Backend) Init(searchPath string) error {
	_, err := b.do(http.MethodPost, "/v1/runtime", runtimeReq{SearchPath: searchPath}, nil)
	return err
}

func (b *Backend) Construct(id classifier.BackendID, files []string) (classifier.Instance, error) {
	resp := &constructResp{}
	_, err := b.do(http.MethodPost, "/v1/models", constructReq{Module: id.Module, Class: id.Class, Files: files}, resp)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("remote: %s constructed without an instance id", id)
	}
	log.Debug().Str("backend", id.String()).Str("instance", resp.ID).Msg("remote instance constructed")
	return &instance{backend: b, id: resp.ID}, nil
}

func (b *Backend) Finalize() error {
	_, err := b.do(http.MethodDelete, "/v1/runtime", nil, nil)
	return err
}

// do sends one request and decodes a 2xx JSON body into result.
func (b *Backend) do(method, path string, body, result any) (*resty.Response, error) {
	req := b.rest.R().
		SetHeader("X-Request-ID", uuid.NewString()).
		SetError(&apiError{})
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, b.base+path)
	if err != nil {
		return nil, fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
			return resp, fmt.Errorf("remote: %s %s: status %d: %s", method, path, resp.StatusCode(), e.Error)
		}
		return resp, fmt.Errorf("remote: %s %s: status %d", method, path, resp.StatusCode())
	}
	return resp, nil
}

type instance struct {
	backend *Backend
	id      string
}

// Predict returns the service's raw result as a json.Number when it is
// numeric, otherwise as the decoded JSON value.
func (i *instance) Predict(features []float64) (any, error) {
	resp := &predictResp{}
	if _, err := i.backend.do(http.MethodPost, "/v1/models/"+i.id+"/predict", predictReq{Features: features}, resp); err != nil {
		return nil, err
	}
	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("remote: instance %s returned no result", i.id)
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Result))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("remote: decode result: %w", err)
	}
	return raw, nil
}

func (i *instance) Probability(name classifier.ProbabilityName) (float64, error) {
	resp := &probabilityResp{}
	if _, err := i.backend.do(http.MethodGet, "/v1/models/"+i.id+"/probabilities/"+string(name), nil, resp); err != nil {
		return 0, err
	}
	if resp.Value == nil {
		return 0, fmt.Errorf("remote: instance %s has no %s probability", i.id, name)
	}
	return *resp.Value, nil
}

func (i *instance) Release() error {
	_, err := i.backend.do(http.MethodDelete, "/v1/models/"+i.id, nil, nil)
	return err
}
