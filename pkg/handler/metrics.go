package handler

import (
	"net/http"
	"sync"
	"sync/atomic"
)

// Metrics provides numbers about the usage of the ingestd handler.
// Values are read and modified atomically so they may be observed from
// a collector goroutine running concurrently with request handling.
type Metrics struct {
	RequestsTotal     map[string]*uint64
	ErrorsTotal       *errorsTotalMap
	BytesReceived     *uint64
	UploadsCreated    *uint64
	UploadsFinished   *uint64
	UploadsTerminated *uint64
}

func newMetrics() Metrics {
	return Metrics{
		RequestsTotal: map[string]*uint64{
			http.MethodGet:     new(uint64),
			http.MethodHead:    new(uint64),
			http.MethodPost:    new(uint64),
			http.MethodPatch:   new(uint64),
			http.MethodDelete:  new(uint64),
			http.MethodOptions: new(uint64),
		},
		ErrorsTotal:       newErrorsTotalMap(),
		BytesReceived:     new(uint64),
		UploadsCreated:    new(uint64),
		UploadsFinished:   new(uint64),
		UploadsTerminated: new(uint64),
	}
}

func (m Metrics) incRequestsTotal(method string) {
	if ptr, ok := m.RequestsTotal[method]; ok {
		atomic.AddUint64(ptr, 1)
	}
}

func (m Metrics) incErrorsTotal(statusCode int, errorCode string) {
	ptr := m.ErrorsTotal.retrievePointerFor(statusCode, errorCode)
	atomic.AddUint64(ptr, 1)
}

func (m Metrics) incBytesReceived(delta uint64) {
	atomic.AddUint64(m.BytesReceived, delta)
}

func (m Metrics) incUploadsCreated()    { atomic.AddUint64(m.UploadsCreated, 1) }
func (m Metrics) incUploadsFinished()   { atomic.AddUint64(m.UploadsFinished, 1) }
func (m Metrics) incUploadsTerminated() { atomic.AddUint64(m.UploadsTerminated, 1) }

// errorKey groups errors for the counter map by status code and
// ingestd error code, so distinct messages for the same failure kind
// don't fragment the series.
type errorKey struct {
	Code      int
	ErrorCode string
}

type errorsTotalMap struct {
	mu sync.RWMutex
	m  map[errorKey]*uint64
}

func newErrorsTotalMap() *errorsTotalMap {
	return &errorsTotalMap{m: make(map[errorKey]*uint64, 16)}
}

func (e *errorsTotalMap) retrievePointerFor(statusCode int, errorCode string) *uint64 {
	key := errorKey{Code: statusCode, ErrorCode: errorCode}

	e.mu.RLock()
	ptr, ok := e.m[key]
	e.mu.RUnlock()
	if ok {
		return ptr
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ptr, ok = e.m[key]; ok {
		return ptr
	}
	ptr = new(uint64)
	e.m[key] = ptr
	return ptr
}

// ErrorCount is one row of an errorsTotalMap snapshot, exported so
// collectors outside the package can enumerate it.
type ErrorCount struct {
	StatusCode int
	ErrorCode  string
	Count      uint64
}

// Snapshot retrieves the current value of every error counter.
func (e *errorsTotalMap) Snapshot() []ErrorCount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rows := make([]ErrorCount, 0, len(e.m))
	for k, v := range e.m {
		rows = append(rows, ErrorCount{StatusCode: k.Code, ErrorCode: k.ErrorCode, Count: atomic.LoadUint64(v)})
	}
	return rows
}
