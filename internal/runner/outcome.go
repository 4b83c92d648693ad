package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yieldforecast/forecaster/internal/model"
)

type Kind int

const (
	Success Kind = iota
	Failure
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Outcome classifies one job execution. Output is set for Success only.
// Reason is a short human readable cause and never carries stderr.
type Outcome struct {
	Kind     Kind
	Output   json.RawMessage
	Reason   string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Started  time.Time
	Stopped  time.Time
}

// Err maps the outcome to the error taxonomy of the forecaster, nil on
// Success.
func (o Outcome) Err() error {
	switch o.Kind {
	case Success:
		return nil
	case Timeout:
		return fmt.Errorf("%w: %s", model.ErrJobTimeout, o.Reason)
	default:
		return &model.JobFailure{Reason: o.Reason, ExitCode: o.ExitCode}
	}
}

func (o Outcome) Duration() time.Duration {
	return o.Stopped.Sub(o.Started)
}

// interpret classifies a finished process. Diagnostic text may precede the
// structured result on stdout, so the first JSON object is taken from the
// first '{'. An object with an "error" member is a failure even for exit 0.
func interpret(exitCode int, stdout []byte) Outcome {
	obj, decodeErr := firstObject(stdout)
	if exitCode != 0 {
		reason := fmt.Sprintf("exit status %d", exitCode)
		if decodeErr == nil {
			if msg, ok := errorMember(obj); ok {
				reason = msg
			}
		}
		return Outcome{Kind: Failure, Reason: reason, ExitCode: exitCode}
	}

	if decodeErr != nil {
		return Outcome{Kind: Failure, Reason: decodeErr.Error()}
	}
	if msg, ok := errorMember(obj); ok {
		return Outcome{Kind: Failure, Reason: msg}
	}
	return Outcome{Kind: Success, Output: obj}
}

type outputError string

func (e outputError) Error() string { return string(e) }

const (
	errNoOutput        = outputError("no structured output")
	errMalformedOutput = outputError("malformed structured output")
)

func firstObject(stdout []byte) (json.RawMessage, error) {
	i := bytes.IndexByte(stdout, '{')
	if i < 0 {
		return nil, errNoOutput
	}
	var obj json.RawMessage
	if err := json.NewDecoder(bytes.NewReader(stdout[i:])).Decode(&obj); err != nil {
		return nil, errMalformedOutput
	}
	return obj, nil
}

func errorMember(obj json.RawMessage) (string, bool) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(obj, &members); err != nil {
		return "", false
	}
	raw, ok := members["error"]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		if msg == "" {
			return "unspecified job error", true
		}
		return msg, true
	}
	return string(raw), true
}
