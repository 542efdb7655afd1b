package pipeline

import "fmt"

// Stage identifies the pipeline step that failed.
type Stage int

const (
	// CollectFailed means no snapshot could be obtained.
	CollectFailed Stage = iota + 1
	// EncodeFailed means the snapshot could not be serialized.
	EncodeFailed
	// DeliverFailed means the sink rejected the report.
	DeliverFailed
)

func (s Stage) String() string {
	switch s {
	case CollectFailed:
		return "collect failed"
	case EncodeFailed:
		return "encode failed"
	case DeliverFailed:
		return "deliver failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

func (s Stage) label() string {
	switch s {
	case CollectFailed:
		return "collect"
	case EncodeFailed:
		return "encode"
	case DeliverFailed:
		return "deliver"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is.
var (
	ErrCollectFailed = &PipelineError{Stage: CollectFailed}
	ErrEncodeFailed  = &PipelineError{Stage: EncodeFailed}
	ErrDeliverFailed = &PipelineError{Stage: DeliverFailed}
)

// PipelineError reports which stage of a run failed.
type PipelineError struct {
	Stage    Stage
	Pipeline string
	Topic    string
	Err      error
}

func (e *PipelineError) Error() string {
	msg := "pipeline"
	if e.Pipeline != "" {
		msg += " " + e.Pipeline
	}
	msg += ": " + e.Stage.String()
	if e.Topic != "" {
		msg += " (topic " + e.Topic + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches any PipelineError of the same Stage.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	return ok && t.Stage == e.Stage
}
