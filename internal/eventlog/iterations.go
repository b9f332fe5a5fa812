package eventlog

import "time"

// Topics bounding one runner iteration in the event log.
const (
	TopicIterationStarted   = "iteration.started"
	TopicIterationCompleted = "iteration.completed"
)

// Iteration is one started/completed pair folded out of a session log.
// DurationSecs is nil when the iteration never saw its completion event.
type Iteration struct {
	Number       int    `json:"number"`
	Hat          string `json:"hat,omitempty"`
	StartedAt    string `json:"started_at"`
	DurationSecs *int64 `json:"duration_secs,omitempty"`
}

// FoldIterations builds the iteration timeline from a session's events.
// A started event with an open predecessor closes it without a duration
// (the completion was never logged); a completed event only closes the open
// iteration when the numbers match. Events without a timestamp are ignored.
func FoldIterations(events []Event) []Iteration {
	var out []Iteration
	var open *Iteration

	for _, e := range events {
		if e.Timestamp == "" {
			continue
		}
		switch e.Topic {
		case TopicIterationStarted:
			if open != nil {
				out = append(out, *open)
			}
			open = &Iteration{
				Number:    e.Iteration,
				Hat:       e.Hat,
				StartedAt: e.Timestamp,
			}
		case TopicIterationCompleted:
			if open == nil {
				continue
			}
			closed := *open
			open = nil
			if closed.Number != e.Iteration {
				continue
			}
			closed.DurationSecs = durationSecs(closed.StartedAt, e.Timestamp)
			out = append(out, closed)
		}
	}

	if open != nil {
		out = append(out, *open)
	}
	return out
}

// durationSecs returns the whole seconds between two RFC 3339 timestamps,
// clamped at zero, or nil when either fails to parse.
func durationSecs(start, end string) *int64 {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return nil
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return nil
	}
	secs := int64(e.Sub(s).Seconds())
	if secs < 0 {
		secs = 0
	}
	return &secs
}
