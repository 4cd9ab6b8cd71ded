package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrReadTimeout is returned when no data arrives from the provider within the configured idle timeout.
	ErrReadTimeout = errors.New("upstream read timed out")
	// ErrMissingCompletion is returned when the provider finished without producing any content.
	ErrMissingCompletion = errors.New("upstream returned no completion content")
)

// UpstreamError describes a failed exchange with the completion provider.
// StatusCode and Body are set when the provider rejected the request.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	case e.Err != nil:
		return "upstream: " + e.Err.Error()
	default:
		return "upstream error"
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
