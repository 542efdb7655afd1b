package scheduler

import "fmt"

// ConfigErrorKind classifies a ConfigError.
type ConfigErrorKind int

const (
	// InvalidStream means the named stream is not registered.
	InvalidStream ConfigErrorKind = iota + 1
	// InvalidValue means the value is malformed or not allowed for the stream.
	InvalidValue
)

func (k ConfigErrorKind) String() string {
	switch k {
	case InvalidStream:
		return "invalid stream"
	case InvalidValue:
		return "invalid value"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is.
var (
	ErrInvalidStream = &ConfigError{Kind: InvalidStream}
	ErrInvalidValue  = &ConfigError{Kind: InvalidValue}
)

// ConfigError is returned by the registry's configuration inputs.
type ConfigError struct {
	Kind   ConfigErrorKind
	Stream string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "scheduler: " + e.Kind.String()
	if e.Stream != "" {
		msg += " " + e.Stream
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is matches any ConfigError of the same Kind.
func (e *ConfigError) Is(target error) bool {
	t, ok := target.(*ConfigError)
	return ok && t.Kind == e.Kind
}
