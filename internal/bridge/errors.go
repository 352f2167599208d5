package bridge

import (
	"errors"
	"fmt"
	"net/http"
)

// errResourceNotAvailable is the v1 error type for an unknown resource.
const errResourceNotAvailable = 3

// ErrTransport matches every *TransportError via errors.Is.
var ErrTransport = errors.New("bridge transport error")

// TransportError is returned when a bridge call fails, answers with a
// non-2xx status, or returns a payload of the wrong shape.
type TransportError struct {
	Op      string // getLights, getLightState, setLightState
	Status  int    // HTTP status, 0 when no response was received; 404 for an unknown resource
	Message string
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s failed: %d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s failed: %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
	}
}

// Is lets errors.Is(err, ErrTransport) match any TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// shapeError builds the error for a read whose body is not a JSON object.
// The v1 API answers unknown lights and bad usernames with 200 and an error
// array; those carry the bridge's description, and an unknown resource is
// reported as 404.
func shapeError(op string, body []byte, fallback string) error {
	ack, err := decodeAck(body)
	if err != nil {
		return &TransportError{Op: op, Message: fallback}
	}
	for _, e := range ack {
		if e.Error == nil {
			continue
		}
		te := &TransportError{Op: op, Message: e.Error.Description}
		if e.Error.Type == errResourceNotAvailable {
			te.Status = http.StatusNotFound
		}
		return te
	}
	return &TransportError{Op: op, Message: fallback}
}
