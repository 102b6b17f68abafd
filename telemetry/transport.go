package telemetry

import (
	"net/http"
	"time"
)

// InstrumentedTransport wraps an http.RoundTripper with service call metrics.
type InstrumentedTransport struct {
	base    http.RoundTripper
	service string
}

// NewInstrumentedTransport creates a new instrumented transport for a
// remote service. If base is nil, http.DefaultTransport is used.
func NewInstrumentedTransport(base http.RoundTripper, service string) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base, service: service}
}

// RoundTrip implements http.RoundTripper with metrics recording.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		outcome := "error"
		if req.Context().Err() != nil {
			outcome = "canceled"
		}
		RecordServiceCall(req.Context(), t.service, outcome, duration)
		return nil, err
	}

	outcome := "success"
	if resp.StatusCode >= 500 {
		outcome = "5xx"
	} else if resp.StatusCode >= 400 {
		outcome = "4xx"
	}
	RecordServiceCall(req.Context(), t.service, outcome, duration)

	return resp, nil
}
