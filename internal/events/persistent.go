package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/forgelabs/forge/internal/db"
)

const (
	// Buffer flushes when it reaches this size.
	bufferSizeThreshold = 10
	// Buffer flushes automatically on this interval.
	flushInterval = 5 * time.Second
)

// EventStore persists batches of event records.
type EventStore interface {
	SaveEvents(ctx context.Context, events []db.EventRecord) error
}

// PersistentPublisher wraps MemoryPublisher and adds database persistence.
// Subscribers get real-time delivery; the event_log table gets a buffered
// audit trail.
type PersistentPublisher struct {
	inner       *MemoryPublisher
	store       EventStore
	source      string
	buffer      []db.EventRecord
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	logger      *slog.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewPersistentPublisher creates a new persistent event publisher. The
// source parameter identifies where events originate (e.g. "scheduler",
// "worker").
func NewPersistentPublisher(store EventStore, source string, logger *slog.Logger, opts ...PublisherOption) *PersistentPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	p := &PersistentPublisher{
		inner:  NewMemoryPublisher(opts...),
		store:  store,
		source: source,
		buffer: make([]db.EventRecord, 0, bufferSizeThreshold),
		logger: logger,
		stopCh: make(chan struct{}),
	}

	p.flushTicker = time.NewTicker(flushInterval)
	p.wg.Add(1)
	go p.flushLoop()

	return p
}

// Publish sends an event to subscribers and persists it to the database.
func (p *PersistentPublisher) Publish(event Event) {
	p.inner.Publish(event)
	p.record(event)
}

// Dispatch delivers the event to a subscriber, failing if none accepts,
// and persists it on success.
func (p *PersistentPublisher) Dispatch(ctx context.Context, event Event) error {
	if err := p.inner.Dispatch(ctx, event); err != nil {
		return err
	}
	p.record(event)
	return nil
}

func (p *PersistentPublisher) record(event Event) {
	if p.store == nil {
		return
	}

	rec := p.eventToRecord(event)

	p.bufferMu.Lock()
	p.buffer = append(p.buffer, rec)
	shouldFlush := len(p.buffer) >= bufferSizeThreshold
	p.bufferMu.Unlock()

	// Terminal events flush immediately so post-mortems see them.
	if shouldFlush || isTerminal(event.Type) {
		p.flush()
	}
}

func isTerminal(t EventType) bool {
	switch t {
	case EventTaskCompleted, EventTaskFailed, EventProjectCompleted,
		EventProjectFailed, EventPhaseFailed:
		return true
	}
	return false
}

func (p *PersistentPublisher) eventToRecord(event Event) db.EventRecord {
	data := ""
	if event.Data != nil {
		if b, err := json.Marshal(event.Data); err == nil {
			data = string(b)
		} else {
			p.logger.Warn("failed to marshal event data",
				"type", event.Type, "error", err)
		}
	}
	return db.EventRecord{
		ProjectID: event.ProjectID,
		TaskID:    event.TaskID,
		EventType: string(event.Type),
		Data:      data,
		Source:    p.source,
		CreatedAt: event.Time,
	}
}

// Subscribe returns a channel that receives events for the given project.
func (p *PersistentPublisher) Subscribe(projectID string) <-chan Event {
	return p.inner.Subscribe(projectID)
}

// Unsubscribe removes a subscription channel.
func (p *PersistentPublisher) Unsubscribe(projectID string, ch <-chan Event) {
	p.inner.Unsubscribe(projectID, ch)
}

// SubscriberCount returns the number of active subscriptions for a project.
func (p *PersistentPublisher) SubscriberCount(projectID string) int {
	return p.inner.SubscriberCount(projectID)
}

// Close flushes remaining events and shuts the publisher down. Idempotent.
func (p *PersistentPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.flushTicker.Stop()
		p.wg.Wait()
		p.flush()
		p.inner.Close()
	})
}

// Flush forces a write of buffered events. Exposed for tests.
func (p *PersistentPublisher) Flush() {
	p.flush()
}

func (p *PersistentPublisher) flushLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.flushTicker.C:
			p.flush()
		case <-p.stopCh:
			return
		}
	}
}

func (p *PersistentPublisher) flush() {
	p.bufferMu.Lock()
	if len(p.buffer) == 0 {
		p.bufferMu.Unlock()
		return
	}
	batch := p.buffer
	p.buffer = make([]db.EventRecord, 0, bufferSizeThreshold)
	p.bufferMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.store.SaveEvents(ctx, batch); err != nil {
		p.logger.Error("failed to persist events",
			"count", len(batch), "error", err)
	}
}
