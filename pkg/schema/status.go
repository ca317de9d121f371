package schema

// Status is the lifecycle state of a process or a sequence run.
type Status string

const (
	StatusInactive    Status = "inactive"
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusCanceled    Status = "canceled"
	StatusPaused      Status = "paused"
	StatusError       Status = "error"
	StatusErrorPaused Status = "error_paused"
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusInactive,
	StatusActive,
	StatusCompleted,
	StatusCanceled,
	StatusPaused,
	StatusError,
	StatusErrorPaused,
}

// Valid returns true if s is one of the seven known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInactive, StatusActive, StatusCompleted, StatusCanceled,
		StatusPaused, StatusError, StatusErrorPaused:
		return true
	}
	return false
}

// IsTerminal returns true for the statuses a finished run can end in.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusError
}

// IsPaused returns true for both plain and error pauses.
func (s Status) IsPaused() bool {
	return s == StatusPaused || s == StatusErrorPaused
}

// Transition applies the status transition table. It returns the resulting
// status and whether the request was accepted. Rejected requests return the
// current status unchanged.
//
//	inactive, completed, canceled -> active only
//	active, paused                -> anything
//	error_paused                  -> anything except paused, error
//	error                         -> anything except paused
func Transition(current, requested Status) (Status, bool) {
	if !requested.Valid() {
		return current, false
	}
	switch current {
	case StatusInactive, StatusCompleted, StatusCanceled:
		if requested != StatusActive {
			return current, false
		}
	case StatusActive, StatusPaused:
	case StatusErrorPaused:
		if requested == StatusPaused || requested == StatusError {
			return current, false
		}
	case StatusError:
		if requested == StatusPaused {
			return current, false
		}
	default:
		return current, false
	}
	return requested, true
}
