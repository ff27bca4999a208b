package worker

// Reason tags a notification posted to the UI thread.
type Reason int

const (
	ReasonDataRead Reason = iota + 1
	ReasonDataWritten
	ReasonProgress
	ReasonCommandOutput
	ReasonCommandDone
)

func (r Reason) String() string {
	switch r {
	case ReasonDataRead:
		return "data_read"
	case ReasonDataWritten:
		return "data_written"
	case ReasonProgress:
		return "progress"
	case ReasonCommandOutput:
		return "command_output"
	case ReasonCommandDone:
		return "command_done"
	default:
		return "unknown"
	}
}

// Listener receives notifications from worker goroutines. PostOnMainThread
// must not block and must deliver in posting order.
type Listener interface {
	PostOnMainThread(reason Reason, job Job)
}

type ListenerFunc func(reason Reason, job Job)

func (f ListenerFunc) PostOnMainThread(reason Reason, job Job) {
	f(reason, job)
}
