// Package handler implements the tus resumable-upload protocol engine:
// request parsing and validation, the upload lifecycle state machine,
// streaming body ingestion, and dispatch over OPTIONS/POST/HEAD/PATCH/
// GET/DELETE.
package handler

import (
	"maps"
	"net/http"
	"strconv"
)

// HTTPHeader is a plain map of additional response headers to set.
type HTTPHeader map[string]string

// HTTPResponse describes the status, body and headers ingestd intends
// to write for a request; it is the single representation every verb
// handler builds before handing off to writeTo.
type HTTPResponse struct {
	StatusCode int
	Body       string
	Header     HTTPHeader
}

// writeTo writes resp to w.
func (resp HTTPResponse) writeTo(w http.ResponseWriter) {
	headers := w.Header()
	for key, value := range resp.Header {
		headers.Set(key, value)
	}

	if len(resp.Body) > 0 {
		headers.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}

	w.WriteHeader(resp.StatusCode)

	if len(resp.Body) > 0 {
		w.Write([]byte(resp.Body))
	}
}

// MergeWith returns a copy of resp, overwritten by any non-default
// value present in other.
func (resp HTTPResponse) MergeWith(other HTTPResponse) HTTPResponse {
	merged := resp

	if other.StatusCode != 0 {
		merged.StatusCode = other.StatusCode
	}
	if len(other.Body) > 0 {
		merged.Body = other.Body
	}

	merged.Header = make(HTTPHeader, len(resp.Header)+len(other.Header))
	maps.Copy(merged.Header, resp.Header)
	maps.Copy(merged.Header, other.Header)

	return merged
}
