package analysis

import "fmt"

// TransportError marks a network-level failure (dial, timeout, broken
// body) against one analysis endpoint. It drives fallthrough to the
// next tier and never escapes Moderate/FactCheck.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("analysis transport error: %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError marks a non-2xx response from an analysis endpoint.
type UpstreamError struct {
	Endpoint string
	Status   int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("analysis upstream error: %s: status %d", e.Endpoint, e.Status)
}
