package research

import "fmt"

// ErrStageViolation is a structural contract violation inside a stage, e.g.
// the decomposer returning the wrong dimension count. The controller retries
// the stage once, then fails the session.
type ErrStageViolation struct {
	Stage  string
	Detail string
}

func (e ErrStageViolation) Error() string {
	return fmt.Sprintf("stage %s violated its contract: %s", e.Stage, e.Detail)
}

// ErrStageFailed wraps a fatal stage error with its attribution.
type ErrStageFailed struct {
	Stage string
	Err   error
}

func (e ErrStageFailed) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e ErrStageFailed) Unwrap() error { return e.Err }
