// Package eventlog reads structured progress events from an append-only
// line-delimited JSON log written by an external agent-loop process.
package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
)

// Event is one progress record appended to a session's event log.
type Event struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
	Iteration int             `json:"iteration,omitempty"`
	Hat       string          `json:"hat,omitempty"`
}

// wireEvent mirrors Event but tolerates the short "ts" timestamp key that
// older agent builds emit.
type wireEvent struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
	Ts        string          `json:"ts"`
	Iteration int             `json:"iteration,omitempty"`
	Hat       string          `json:"hat,omitempty"`
}

// UnmarshalJSON accepts either "timestamp" or the legacy "ts" key.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Topic == "" {
		return errors.New("event missing topic")
	}
	ts := w.Timestamp
	if ts == "" {
		ts = w.Ts
	}
	*e = Event{
		Topic:     w.Topic,
		Payload:   w.Payload,
		Timestamp: ts,
		Iteration: w.Iteration,
		Hat:       w.Hat,
	}
	return nil
}

// PayloadString returns the payload as plain text when it is a JSON string,
// or the raw JSON otherwise.
func (e *Event) PayloadString() string {
	if len(e.Payload) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Payload, &s); err == nil {
		return s
	}
	return string(e.Payload)
}

// ReadResult holds the outcome of one incremental read.
type ReadResult struct {
	Events    []Event
	Malformed int
}

// Reader reads newly appended events from a log file, tracking a byte-offset
// cursor so bytes are never consumed twice. A missing file is not an error;
// it simply yields no events until it appears.
type Reader struct {
	path   string
	offset int64
}

// NewReader returns a Reader positioned at the start of the file.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Offset reports the current cursor position.
func (r *Reader) Offset() int64 {
	return r.offset
}

// ReadNew returns the events appended since the last call and advances the
// cursor. Only complete lines (terminated by a newline) are consumed; a
// partial trailing line is left for the next call. Malformed lines are
// counted and skipped, never fatal.
func (r *Reader) ReadNew() (ReadResult, error) {
	f, err := os.Open(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return ReadResult{}, nil
	}
	if err != nil {
		return ReadResult{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ReadResult{}, err
	}
	// A shrunken file means the log was replaced; start over.
	if info.Size() < r.offset {
		r.offset = 0
	}
	if info.Size() == r.offset {
		return ReadResult{}, nil
	}

	if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
		return ReadResult{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return ReadResult{}, err
	}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		// No complete line yet.
		return ReadResult{}, nil
	}
	consumed := data[:end+1]
	r.offset += int64(len(consumed))

	var res ReadResult
	for _, line := range bytes.Split(consumed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			res.Malformed++
			continue
		}
		res.Events = append(res.Events, ev)
	}
	return res, nil
}
