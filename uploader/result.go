package uploader

// State is the lifecycle position of one upload unit.
type State int

const (
	StatePending State = iota
	StatePlanned
	StateInProgress
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePlanned:
		return "planned"
	case StateInProgress:
		return "in progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the terminal record of one file upload.
type Result struct {
	// Path is the local path the caller supplied.
	Path string

	// FileName is the name registered with the dataset.
	FileName string

	// State is either StateCompleted or StateFailed.
	State State

	// StorageID is the storage identifier assigned by the API, set on
	// success.
	StorageID string

	// Retries is the total number of retries consumed across the unit's
	// remote operations.
	Retries int

	// Err classifies the failure; nil on success.
	Err error
}

// Completed reports whether the file reached the dataset.
func (r Result) Completed() bool {
	return r.State == StateCompleted
}

// Summary aggregates one batch of uploads.
type Summary struct {
	Results []Result
}

// OK reports whether every file completed.
func (s Summary) OK() bool {
	return len(s.Failed()) == 0
}

// Failed returns the results of files that did not complete. Re-running
// just these is the caller's recovery path.
func (s Summary) Failed() []Result {
	var failed []Result
	for _, r := range s.Results {
		if !r.Completed() {
			failed = append(failed, r)
		}
	}
	return failed
}
