package risk

import "fmt"

// ErrorType categorizes fatal assessment failures. Non-fatal
// degradations are Warnings on the Assessment, not errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeProvider   ErrorType = "provider"
	ErrorTypeRetrieval  ErrorType = "retrieval"
	ErrorTypeSynthesis  ErrorType = "synthesis"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error is a structured assessment failure carrying the pipeline stage
// it surfaced in.
type Error struct {
	Type    ErrorType
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on error type so callers can compare against the
// sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

func newError(errType ErrorType, stage Stage, message string, err error) *Error {
	return &Error{Type: errType, Stage: stage, Message: message, Err: err}
}

var (
	ErrEmptyQuery = newError(ErrorTypeValidation, StageValidating, "query cannot be empty", nil)

	// ErrProviderUnavailable covers embedding or generative failure
	// after the retry budget is exhausted.
	ErrProviderUnavailable = newError(ErrorTypeProvider, StageFailed, "model provider unavailable", nil)

	// ErrRetrievalFailed means every scoped vector query failed; a
	// partial failure only degrades to a warning.
	ErrRetrievalFailed = newError(ErrorTypeRetrieval, StageRetrieving, "all vector queries failed", nil)

	// ErrSynthesisParse means the generative output carried no
	// recognizable risk level. Never coerced to a default verdict.
	ErrSynthesisParse = newError(ErrorTypeSynthesis, StageSynthesizing, "no recognizable risk level in model output", nil)
)
