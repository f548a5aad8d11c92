package batch

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/panora77956/v3-sub000/internal/domain"
)

var (
	ErrBatchExists  = errors.New("batch: id already registered")
	ErrBatchBusy    = errors.New("batch: run in progress")
	ErrBatchUnknown = errors.New("batch: not found")
)

// Tracker keeps the batches started by this process in memory.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*Entry)}
}

// Add registers b. The returned entry is idle until Begin.
func (t *Tracker) Add(b *Batch) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[b.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchExists, b.ID)
	}
	e := &Entry{batch: b, cards: make(map[cardKey]domain.CardRecord)}
	for _, job := range b.Jobs {
		for _, c := range job.Items {
			e.cards[cardKey{job.Scene, job.ID, c.Index}] = domain.CardFor(job, c.Index)
		}
	}
	t.entries[b.ID] = e
	return e, nil
}

func (t *Tracker) Get(id string) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchUnknown, id)
	}
	return e, nil
}

type cardKey struct {
	scene int
	job   string
	copy  int
}

// Entry is the observable state of one batch. Card records are built from
// events, so readers never touch the jobs the runner owns.
type Entry struct {
	batch *Batch

	mu      sync.Mutex
	running bool
	cards   map[cardKey]domain.CardRecord
	paths   []string
	lastErr string
}

// Snapshot is a point-in-time view of an Entry.
type Snapshot struct {
	ID      string              `json:"id"`
	Running bool                `json:"running"`
	Cards   []domain.CardRecord `json:"cards"`
	Paths   []string            `json:"paths,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// Begin claims the batch for one run and returns it.
func (e *Entry) Begin() (*Batch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil, ErrBatchBusy
	}
	e.running = true
	e.lastErr = ""
	return e.batch, nil
}

// End releases the batch after a run.
func (e *Entry) End(res Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.paths = append([]string(nil), res.Paths...)
	if err != nil {
		e.lastErr = err.Error()
	}
}

// Sink records card events and forwards every event to next.
func (e *Entry) Sink(next domain.Sink) domain.Sink {
	return domain.SinkFunc(func(ev domain.Event) {
		if card, ok := ev.(domain.Card); ok {
			rec := card.Record
			e.mu.Lock()
			e.cards[cardKey{rec.Scene, rec.JobID, rec.Copy}] = rec
			e.mu.Unlock()
		}
		if next != nil {
			next.Emit(ev)
		}
	})
}

func (e *Entry) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]cardKey, 0, len(e.cards))
	for k := range e.cards {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].scene != keys[j].scene {
			return keys[i].scene < keys[j].scene
		}
		if keys[i].job != keys[j].job {
			return keys[i].job < keys[j].job
		}
		return keys[i].copy < keys[j].copy
	})
	snap := Snapshot{
		ID:      e.batch.ID,
		Running: e.running,
		Cards:   make([]domain.CardRecord, 0, len(keys)),
		Paths:   append([]string(nil), e.paths...),
		Error:   e.lastErr,
	}
	for _, k := range keys {
		snap.Cards = append(snap.Cards, e.cards[k])
	}
	return snap
}
