package upstream

import (
	"errors"
	"fmt"

	"github.com/rhuss/chatrelay/pkg/chat"
)

// ErrStreamEndedUnexpectedly is the terminal error of a translated stream
// whose upstream body ended without the [DONE] sentinel.
var ErrStreamEndedUnexpectedly = errors.New("upstream stream ended unexpectedly")

var errNoChoices = errors.New("chunk has no choices")

// MalformedEventError is the terminal error of a translated stream when an
// event payload could not be decoded into a chunk with at least one choice.
type MalformedEventError struct {
	// Data is the offending payload, truncated for logging.
	Data string
	Err  error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed stream event: %v", e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// MapNetworkError converts a transport-level failure (connection refused,
// DNS failure, header timeout) into an APIError.
func MapNetworkError(err error) *chat.APIError {
	return chat.NewUpstreamError(fmt.Sprintf("upstream connection error: %s", err.Error()))
}
