package launch

import "time"

// Record is the persisted form of an attempt (value type).
type Record struct {
	ID         string
	Path       string
	Name       string
	State      State
	Error      string
	PID        int
	StartedAt  time.Time
	DurationMS int64
	ExitCode   *int       // nil while the module is running or when it never loaded
	EndedAt    *time.Time // set together with ExitCode
}

// NewRecord converts a result into its persisted form.
func NewRecord(r Result) Record {
	rec := Record{
		ID:         r.ID,
		Path:       r.Target.Path,
		Name:       r.Target.DisplayName(),
		State:      r.State,
		PID:        r.PID,
		StartedAt:  r.StartedAt,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// Running reports whether the module loaded and has not been seen to exit.
func (r Record) Running() bool {
	return r.State == StateSucceeded && r.ExitCode == nil
}
