package diagnostics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType classifies a diagnostics event.
type EventType string

const (
	// EventOverlap means more than one usable version covered a date.
	EventOverlap EventType = "overlap"
	// EventPendingLeftover means a write found pending versions left by an
	// earlier aborted write.
	EventPendingLeftover EventType = "pending_leftover"
)

// Event is one operator-visible consistency finding.
type Event struct {
	Type         EventType `json:"type"`
	Key          string    `json:"key"`
	Date         string    `json:"date"`
	ChosenID     string    `json:"chosen_id,omitempty"`
	CandidateIDs []string  `json:"candidate_ids,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Count        int       `json:"count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// Sink accepts diagnostics events.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Recorder keeps the most recent events in a bounded buffer and forwards new
// findings to an optional channel. Repeats of the same type and key inside the
// dedupe window only bump the counter of the stored event.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	index    map[string]int

	channel      Channel
	template     *Template
	dedupeWindow time.Duration
	sendTimeout  time.Duration
	queue        chan Event
	logger       *zap.Logger
	clock        Clock
}

// Option configures the recorder.
type Option func(*Recorder)

// WithChannel forwards new events to channel.
func WithChannel(channel Channel, template *Template) Option {
	return func(r *Recorder) {
		if channel != nil {
			r.channel = channel
			r.template = template
		}
	}
}

// WithDedupeWindow suppresses repeated notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(r *Recorder) {
		if window > 0 {
			r.dedupeWindow = window
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRecorder constructs a recorder holding at most capacity events.
func NewRecorder(capacity int, opts ...Option) *Recorder {
	if capacity <= 0 {
		capacity = 200
	}
	r := &Recorder{
		capacity:     capacity,
		index:        make(map[string]int),
		dedupeWindow: 10 * time.Minute,
		sendTimeout:  5 * time.Second,
		queue:        make(chan Event, 64),
		logger:       zap.NewNop(),
		clock:        systemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.channel != nil && r.template == nil {
		r.template, _ = NewTemplate("")
	}
	return r
}

// Record stores event and queues a notification when it is new.
func (r *Recorder) Record(ctx context.Context, event Event) {
	_ = ctx
	if r == nil {
		return
	}
	now := r.clock.Now()
	id := string(event.Type) + "|" + event.Key + "|" + event.Date

	r.mu.Lock()
	if pos, ok := r.index[id]; ok {
		stored := r.events[pos]
		stored.Count++
		stored.LastSeen = now
		stored.ChosenID = event.ChosenID
		stored.CandidateIDs = event.CandidateIDs
		notify := now.Sub(stored.FirstSeen) >= r.dedupeWindow
		if notify {
			stored.FirstSeen = now
		}
		r.events[pos] = stored
		r.mu.Unlock()
		if notify {
			r.enqueue(stored)
		}
		return
	}
	event.Count = 1
	event.FirstSeen = now
	event.LastSeen = now
	if len(r.events) >= r.capacity {
		r.events = r.events[1:]
		r.reindex()
	}
	r.events = append(r.events, event)
	r.index[id] = len(r.events) - 1
	r.mu.Unlock()

	r.enqueue(event)
}

// Events returns a copy of the stored events, oldest first.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Run delivers queued notifications until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	if r == nil || r.channel == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-r.queue:
			r.deliver(ctx, event)
		}
	}
}

func (r *Recorder) enqueue(event Event) {
	if r.channel == nil {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.logger.Warn("diagnostics queue full, dropping notification", zap.String("key", event.Key))
	}
}

func (r *Recorder) deliver(ctx context.Context, event Event) {
	content, err := r.template.Render(event)
	if err != nil {
		r.logger.Warn("diagnostics render failed", zap.Error(err))
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	if err := r.channel.Send(sendCtx, Notification{Text: content, Event: event}); err != nil {
		r.logger.Warn("diagnostics delivery failed", zap.String("key", event.Key), zap.Error(err))
	}
}

func (r *Recorder) reindex() {
	r.index = make(map[string]int, len(r.events))
	for i, e := range r.events {
		r.index[string(e.Type)+"|"+e.Key+"|"+e.Date] = i
	}
}
