// Package rpc carries report store calls over HTTP.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"whispr/api"

	"github.com/apex/log"
	"github.com/google/uuid"
)

// ErrNotConfigured is returned when the transport has no store address.
var ErrNotConfigured = errors.New("report store address not configured")

// HTTPTransport POSTs each call to <BaseURL>/<method> as an api.Request.
type HTTPTransport struct {
	BaseURL   string
	Principal string
	Client    *http.Client
}

func NewHTTPTransport(baseURL, principal string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Principal: principal,
		Client:    &http.Client{},
	}
}

// Call performs one remote call. A non-nil error means the store could not
// be reached or answered outside the protocol; an {"Err": ...} answer is
// returned as a Result with IsErr set.
func (t *HTTPTransport) Call(ctx context.Context, method string, args interface{}) (api.Result, error) {
	if t == nil || t.BaseURL == "" {
		return api.Result{}, ErrNotConfigured
	}

	req := api.Request{Version: api.APIVersion}
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return api.Result{}, fmt.Errorf("failed to marshal %s args: %w", method, err)
		}
		req.Args = b
	}
	body, err := json.Marshal(req)
	if err != nil {
		return api.Result{}, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return api.Result{}, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(api.RequestIDHeader, requestID)
	if t.Principal != "" {
		httpReq.Header.Set(api.PrincipalHeader, t.Principal)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return api.Result{}, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return api.Result{}, fmt.Errorf("%s: failed to read response body: %w", method, err)
	}
	if resp.StatusCode/100 != 2 {
		log.Warnf("Report store returned %s for %s (request %s): %.200s", resp.Status, method, requestID, respBody)
		return api.Result{}, fmt.Errorf("%s: report store returned status %d", method, resp.StatusCode)
	}

	res, err := api.DecodeResult(respBody)
	if err != nil {
		return api.Result{}, fmt.Errorf("%s: %w", method, err)
	}
	return res, nil
}
