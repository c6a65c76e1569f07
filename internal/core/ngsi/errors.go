package ngsi

import (
	"errors"
	"fmt"
)

var (
	ErrRemoteUnavailable = errors.New("ngsi: context broker unavailable")
	ErrRemoteProtocol    = errors.New("ngsi: context broker rejected request")
)

// RemoteUnavailableError reports a transport failure talking to the broker.
type RemoteUnavailableError struct {
	Op  string
	Err error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("context broker unavailable (%s): %v", e.Op, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

func (e *RemoteUnavailableError) Is(target error) bool { return target == ErrRemoteUnavailable }

// RemoteProtocolError is returned when the broker answered with an
// unexpected status. Body is the raw response.
type RemoteProtocolError struct {
	ID         string
	Type       string
	StatusCode int
	Body       string
}

func (e *RemoteProtocolError) Error() string {
	return fmt.Sprintf("context broker error for entity %s (%s) [%d]: %s", e.ID, e.Type, e.StatusCode, e.Body)
}

func (e *RemoteProtocolError) Is(target error) bool { return target == ErrRemoteProtocol }
