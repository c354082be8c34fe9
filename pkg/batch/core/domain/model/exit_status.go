package model

import (
	"fmt"
	"strings"
)

// Exit codes understood by the framework. Applications may use any other string as a custom exit code.
const (
	ExitCodeUnknown     = "UNKNOWN"
	ExitCodeContinuable = "CONTINUABLE"
	ExitCodeCompleted   = "COMPLETED"
	ExitCodeNoOp        = "NOOP"
	ExitCodeStopped     = "STOPPED"
	ExitCodeFailed      = "FAILED"
)

// ExitStatus is the value object returned by a single iteration, a chunk or a whole step.
// It combines a continuation flag (should the enclosing loop keep going) with a symbolic exit code
// and a free-form description.
type ExitStatus struct {
	Continuable     bool   `json:"continuable"`
	ExitCode        string `json:"exit_code"`
	ExitDescription string `json:"exit_description,omitempty"`
}

var (
	// ExitStatusUnknown is continuable and carries no information. It is the identity element of And.
	ExitStatusUnknown = ExitStatus{Continuable: true, ExitCode: ExitCodeUnknown}
	// ExitStatusContinuable signals that there is more work to do.
	ExitStatusContinuable = ExitStatus{Continuable: true, ExitCode: ExitCodeContinuable}
	// ExitStatusCompleted signals that processing finished normally.
	ExitStatusCompleted = ExitStatus{Continuable: false, ExitCode: ExitCodeCompleted}
	// ExitStatusNoOp signals that the unit finished without doing anything.
	ExitStatusNoOp = ExitStatus{Continuable: false, ExitCode: ExitCodeNoOp}
	// ExitStatusStopped signals that processing was interrupted.
	ExitStatusStopped = ExitStatus{Continuable: false, ExitCode: ExitCodeStopped}
	// ExitStatusFailed signals that processing finished with an error.
	ExitStatusFailed = ExitStatus{Continuable: false, ExitCode: ExitCodeFailed}
)

// severity orders exit codes for And. Unrecognised (custom) codes rank between NOOP and STOPPED.
func severity(code string) int {
	switch code {
	case "", ExitCodeUnknown:
		return 0
	case ExitCodeContinuable:
		return 1
	case ExitCodeCompleted:
		return 2
	case ExitCodeNoOp:
		return 3
	case ExitCodeStopped:
		return 5
	case ExitCodeFailed:
		return 6
	default:
		return 4
	}
}

// And combines two statuses.
//
// The result is continuable only if both are. The exit code is the more severe of the two
// (UNKNOWN < CONTINUABLE < COMPLETED < NOOP < custom < STOPPED < FAILED); on a tie the receiver's code is kept.
// Descriptions are joined with "; ".
func (s ExitStatus) And(other ExitStatus) ExitStatus {
	result := s
	if result.ExitCode == "" {
		result.ExitCode = ExitCodeUnknown
	}
	result.Continuable = s.Continuable && other.Continuable
	if severity(other.ExitCode) > severity(result.ExitCode) {
		result.ExitCode = other.ExitCode
	}
	result.ExitDescription = joinDescriptions(s.ExitDescription, other.ExitDescription)
	return result
}

// AndContinuable returns a copy whose continuable flag is and-ed with the argument.
func (s ExitStatus) AndContinuable(continuable bool) ExitStatus {
	s.Continuable = s.Continuable && continuable
	return s
}

// WithDescription returns a copy with the description appended.
func (s ExitStatus) WithDescription(description string) ExitStatus {
	s.ExitDescription = joinDescriptions(s.ExitDescription, description)
	return s
}

// ReplaceExitCode returns a copy with a new exit code, keeping the continuable flag and description.
func (s ExitStatus) ReplaceExitCode(code string) ExitStatus {
	s.ExitCode = code
	return s
}

// IsZero reports whether the status is the zero value, which the repeat engines use for "no result".
func (s ExitStatus) IsZero() bool {
	return s == ExitStatus{}
}

// IsRunning reports whether the status describes work still in progress.
func (s ExitStatus) IsRunning() bool {
	return s.ExitCode == ExitCodeContinuable || s.ExitCode == ExitCodeUnknown
}

// String returns a readable form of the status.
func (s ExitStatus) String() string {
	return fmt.Sprintf("continuable=%t;exitCode=%s;exitDescription=%s", s.Continuable, s.ExitCode, s.ExitDescription)
}

func joinDescriptions(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "" || a == b:
		return a
	default:
		return a + "; " + b
	}
}
