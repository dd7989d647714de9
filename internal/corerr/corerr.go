// Package corerr defines the closed error taxonomy shared across the
// job-execution core. Every fault a component raises is one of these kinds;
// callers that need to branch on fault category use errors.As against
// *CoreError rather than string-matching messages.
package corerr

import "fmt"

// Kind is a closed enumeration of fault categories (see spec §7).
type Kind string

const (
	InputRejected        Kind = "InputRejected"
	NotFound             Kind = "NotFound"
	UnsupportedFormat    Kind = "UnsupportedFormat"
	MalformedCsv         Kind = "MalformedCsv"
	MalformedJson        Kind = "MalformedJson"
	MalformedExcel       Kind = "MalformedExcel"
	FileTooLarge         Kind = "FileTooLarge"
	ModelUnavailable     Kind = "ModelUnavailable"
	ModelProtocolError   Kind = "ModelProtocolError"
	ExecutionFailed      Kind = "ExecutionFailed"
	ExecutionTimeout     Kind = "ExecutionTimeout"
	ExecBudgetExhausted  Kind = "ExecBudgetExhausted"
	WallTimeout          Kind = "WallTimeout"
	Canceled             Kind = "Canceled"
	BrokerError          Kind = "BrokerError"
	InflationRefreshFail Kind = "InflationRefreshFailed"
)

// transient reports whether a fault of this kind is eligible for retry by
// the broker's backoff machinery rather than a terminal job outcome.
var transient = map[Kind]bool{
	ModelUnavailable:     true,
	BrokerError:          true,
	InflationRefreshFail: true,
}

// terminalForJob reports whether, surfaced at the Orchestrator boundary,
// this kind ends the job rather than becoming an observation fed back to
// the model.
var terminalForJob = map[Kind]bool{
	InputRejected:       true,
	NotFound:            true,
	ModelProtocolError:  true,
	ExecutionTimeout:    true,
	ExecBudgetExhausted: true,
	WallTimeout:         true,
	Canceled:            true,
}

// CoreError is the single concrete error type raised by the core. It wraps
// an optional underlying cause so callers can still unwrap to inspect it.
type CoreError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// New constructs a CoreError with no wrapped cause.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap constructs a CoreError carrying an underlying cause.
func Wrap(kind Kind, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, kind Kind) bool {
	var ce *CoreError
	if !asCoreError(err, &ce) {
		return false
	}
	return ce.Kind == kind
}

// KindOf extracts the Kind of err if it is (or wraps) a CoreError.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if !asCoreError(err, &ce) {
		return "", false
	}
	return ce.Kind, true
}

// Transient reports whether err's kind is retry-eligible at the broker
// layer (connectivity faults, not generated-code faults).
func Transient(err error) bool {
	k, ok := KindOf(err)
	return ok && transient[k]
}

// TerminalForJob reports whether err's kind, raised at an Orchestrator
// boundary, ends the job rather than being fed back as an observation.
func TerminalForJob(err error) bool {
	k, ok := KindOf(err)
	return ok && terminalForJob[k]
}

func asCoreError(err error, target **CoreError) bool {
	for err != nil {
		if ce, ok := err.(*CoreError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
