package domain

import "time"

// Event is one entry of the progress stream consumed by the presentation
// layer. The set of implementations is closed: Started, Progress, Card,
// Log, Completed and Error.
type Event interface {
	Kind() string
	event()
}

// Started is emitted once when a batch begins.
type Started struct {
	BatchID string
	Jobs    int
	At      time.Time
}

// Progress reports coarse progress for one scene.
type Progress struct {
	Scene   int
	Total   int
	Message string
}

// Card carries a per-copy status record.
type Card struct {
	Record CardRecord
}

// Log is a free-form log line.
type Log struct {
	Text string
}

// Completed is emitted once with every downloaded artifact path.
type Completed struct {
	Paths []string
}

// Error reports a run-level or per-copy failure message.
type Error struct {
	Message string
}

func (Started) Kind() string   { return "started" }
func (Progress) Kind() string  { return "progress" }
func (Card) Kind() string      { return "card" }
func (Log) Kind() string       { return "log" }
func (Completed) Kind() string { return "completed" }
func (Error) Kind() string     { return "error" }

func (Started) event()   {}
func (Progress) event()  {}
func (Card) event()      {}
func (Log) event()       {}
func (Completed) event() {}
func (Error) event()     {}

// CardRecord is the presentation-neutral view of one (job, copy).
type CardRecord struct {
	JobID     string    `json:"job_id"`
	Scene     int       `json:"scene"`
	Copy      int       `json:"copy"`
	Account   string    `json:"account,omitempty"`
	Model     string    `json:"model,omitempty"`
	Status    Status    `json:"status"`
	URL       string    `json:"url,omitempty"`
	Path      string    `json:"path,omitempty"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CardFor snapshots copy index of j.
func CardFor(j *Job, index int) CardRecord {
	rec := CardRecord{JobID: j.ID, Scene: j.Scene, Copy: index, Account: j.Account, Model: j.Model}
	c, err := j.Copy(index)
	if err != nil {
		return rec
	}
	rec.Status = c.Status
	rec.URL = c.ArtifactURL
	rec.Path = c.LocalPath
	rec.Thumbnail = c.ThumbnailPath
	rec.UpdatedAt = c.UpdatedAt
	if c.Handle.Account != "" {
		rec.Account = c.Handle.Account
	}
	if c.Err != nil {
		rec.ErrorKind = c.Err.Kind
		rec.Error = c.Err.Error()
	}
	return rec
}

// Sink receives events. Implementations must not block for long; the
// batch runner calls Emit from its single consumer goroutine.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// DiscardSink drops every event.
var DiscardSink Sink = SinkFunc(nil)

// EventPayload flattens an event into a JSON-friendly map keyed by field
// name, with "kind" set. Consumers that serialize events use it.
func EventPayload(e Event) map[string]any {
	out := map[string]any{"kind": e.Kind()}
	switch ev := e.(type) {
	case Started:
		out["batch_id"] = ev.BatchID
		out["jobs"] = ev.Jobs
		out["at"] = ev.At
	case Progress:
		out["scene"] = ev.Scene
		out["total"] = ev.Total
		out["message"] = ev.Message
	case Card:
		out["record"] = ev.Record
	case Log:
		out["text"] = ev.Text
	case Completed:
		out["paths"] = ev.Paths
	case Error:
		out["message"] = ev.Message
	}
	return out
}
