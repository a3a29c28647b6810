package domain

// Status is the lifecycle state of an export job
type Status string

// Export job status constants
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// TerminalStatuses lists the states no transition may leave
var TerminalStatuses = []Status{StatusCompleted, StatusFailed, StatusCancelled}

// IsTerminal reports whether the status is one of completed, failed or cancelled
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}
