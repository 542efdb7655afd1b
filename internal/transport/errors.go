package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a TransportError.
type Kind int

const (
	// SendFailed means the request could not be sent within the retry budget.
	SendFailed Kind = iota + 1
	// ReceiveFailed means the request was sent but no usable reply arrived.
	ReceiveFailed
	// BufferOverflow means the reply filled the reply buffer.
	BufferOverflow
	// NotConnected means the client is not connected or has been closed.
	NotConnected
)

func (k Kind) String() string {
	switch k {
	case SendFailed:
		return "send failed"
	case ReceiveFailed:
		return "receive failed"
	case BufferOverflow:
		return "buffer overflow"
	case NotConnected:
		return "not connected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is matching on the kind of a TransportError.
var (
	ErrSendFailed     = &TransportError{Kind: SendFailed}
	ErrReceiveFailed  = &TransportError{Kind: ReceiveFailed}
	ErrBufferOverflow = &TransportError{Kind: BufferOverflow}
	ErrNotConnected   = &TransportError{Kind: NotConnected}

	// ErrNoResponders is the cause of a ReceiveFailed when nothing serves the subject.
	ErrNoResponders = errors.New("no responders")
)

// TransportError is returned by Client.Request.
type TransportError struct {
	Kind Kind
	// Identity is the connection identity in use when the error occurred.
	Identity string
	// Attempts is the number of send attempts made.
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	msg := "transport: " + e.Kind.String()
	if e.Identity != "" {
		msg += " (identity " + e.Identity + ")"
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is matches any TransportError of the same Kind.
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	return ok && t.Kind == e.Kind
}
