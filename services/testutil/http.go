package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
)

// Request is one call against a portal router under test.
type Request struct {
	Method string
	Path   string
	// JSON is encoded as the body when non-nil.
	JSON any
	// Stream is sent as-is without a Content-Length, the way a chunked
	// client upload arrives. It takes precedence over JSON.
	Stream        io.Reader
	Token         string
	CorrelationID string
}

// Do serves r through router and records the response.
func Do(router http.Handler, r Request) *httptest.ResponseRecorder {
	var body io.Reader
	switch {
	case r.Stream != nil:
		body = io.MultiReader(r.Stream)
	case r.JSON != nil:
		payload, _ := json.Marshal(r.JSON)
		body = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(r.Method, r.Path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Stream != nil {
		req.TransferEncoding = []string{"chunked"}
	}
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}
	if r.CorrelationID != "" {
		req.Header.Set("X-Request-ID", r.CorrelationID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// MakeAuthRequest sends body as JSON with a bearer token. A nil body sends no
// body at all.
func MakeAuthRequest(router http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	return Do(router, Request{Method: method, Path: path, JSON: body, Token: token})
}

func MakeAPIRequest(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	return Do(router, Request{Method: method, Path: path, JSON: body})
}
