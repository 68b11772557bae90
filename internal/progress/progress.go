// Package progress consumes the server-push stream that reports video
// generation progress for one job.
//
// A Subscription owns exactly one connection. It delivers typed events on an
// unbuffered channel, ends with at most one terminal event (Completed or
// Failed), and releases the connection when a terminal status arrives, when
// the transport fails, or when Close is called. Failure is terminal: there is
// no retry or reconnect.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tmaxmax/go-sse"

	"github.com/go-ports/everwalk/internal/models"
)

// EventName is the event-stream name carrying progress payloads.
const EventName = "progress"

var (
	// ErrJobFailed is wrapped by the Err of a Failed event caused by a FAILED status.
	ErrJobFailed = errors.New("video generation failed")
	// ErrStreamEnded is reported when the stream closes before a terminal status.
	ErrStreamEnded = errors.New("progress stream ended before completion")
	// ErrClosed is returned by Wait when the subscription was closed by the caller.
	ErrClosed = errors.New("progress subscription closed")
	// ErrAlreadySubscribed is returned by Registry.Subscribe for a job that
	// already has a live subscription.
	ErrAlreadySubscribed = errors.New("job already has a progress subscription")
)

// Kind classifies an Event.
type Kind int

const (
	KindProgress Kind = iota
	KindCompleted
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindCompleted:
		return "completed"
	case KindFailed:
		return "failed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is one notification delivered to the consumer.
type Event struct {
	Kind    Kind
	Percent int
	Status  models.JobStatus
	Message string
	Err     error // set on KindFailed
}

// Terminal reports whether no event will follow e.
func (e Event) Terminal() bool { return e.Kind != KindProgress }

// Opener opens the raw event stream of a job.
type Opener interface {
	OpenProgressStream(ctx context.Context, jobID int64) (io.ReadCloser, error)
}

// Subscription is a live progress stream for one job.
type Subscription struct {
	JobID int64

	events    chan Event
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Subscribe opens the progress stream of jobID. The connection is opened in
// the background; a failure to open is reported as a Failed event.
// Cancelling ctx has the same effect as Close.
func Subscribe(ctx context.Context, opener Opener, jobID int64) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		JobID:  jobID,
		events: make(chan Event),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.run(ctx, opener)
	return s
}

// Events returns the channel of notifications. It is closed after the
// terminal event, or without one when the subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed once the connection has been released.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close releases the connection and stops event delivery. It is idempotent,
// safe to call from any goroutine, and returns after the connection is gone.
func (s *Subscription) Close() {
	s.closeOnce.Do(s.cancel)
	<-s.done
}

// Wait consumes events until the stream ends, calling fn (which may be nil)
// for each one. It returns the terminal event. When the subscription is
// closed before a terminal event, Wait returns a Failed event wrapping ErrClosed.
func (s *Subscription) Wait(fn func(Event)) Event {
	var last Event
	terminal := false
	for ev := range s.events {
		if fn != nil {
			fn(ev)
		}
		if ev.Terminal() {
			last, terminal = ev, true
		}
	}
	if !terminal {
		return Event{Kind: KindFailed, Err: ErrClosed}
	}
	return last
}

func (s *Subscription) run(ctx context.Context, opener Opener) {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()

	log := slog.With("job_id", s.JobID)

	body, err := opener.OpenProgressStream(ctx, s.JobID)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("progress: open stream", "err", err)
		}
		s.emit(ctx, Event{Kind: KindFailed, Err: err})
		return
	}
	defer body.Close()

	fail := func(err error) {
		if ctx.Err() == nil {
			log.Warn("progress: stream error", "err", err)
		}
		s.emit(ctx, Event{Kind: KindFailed, Err: err})
	}

	for raw, err := range sse.Read(body, nil) {
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrStreamEnded
			}
			fail(err)
			return
		}
		if raw.Type != EventName {
			continue
		}

		var upd models.ProgressUpdate
		if err := json.Unmarshal([]byte(raw.Data), &upd); err != nil {
			s.emit(ctx, Event{Kind: KindFailed, Err: fmt.Errorf("progress: decode event: %w", err)})
			return
		}

		ev := Event{Kind: KindProgress, Percent: upd.Percent, Status: upd.Status, Message: upd.Message}
		if !s.emit(ctx, ev) {
			return
		}

		switch upd.Status {
		case models.JobCompleted:
			ev.Kind = KindCompleted
			s.emit(ctx, ev)
			return
		case models.JobFailed:
			ev.Kind = KindFailed
			ev.Err = fmt.Errorf("%w: %s", ErrJobFailed, upd.Message)
			s.emit(ctx, ev)
			return
		}
	}
	fail(ErrStreamEnded)
}

// emit delivers ev unless the subscription has been closed. It reports
// whether delivery happened.
func (s *Subscription) emit(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry keeps at most one live Subscription per job.
type Registry struct {
	opener Opener

	mu   sync.Mutex
	live map[int64]*Subscription
}

// NewRegistry returns a Registry opening streams through opener.
func NewRegistry(opener Opener) *Registry {
	return &Registry{opener: opener, live: make(map[int64]*Subscription)}
}

// Subscribe opens the stream of jobID unless one is already live.
func (r *Registry) Subscribe(ctx context.Context, jobID int64) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.live[jobID]; ok {
		select {
		case <-sub.Done():
		default:
			return nil, fmt.Errorf("%w: %d", ErrAlreadySubscribed, jobID)
		}
	}
	sub := Subscribe(ctx, r.opener, jobID)
	r.live[jobID] = sub
	go func() {
		<-sub.Done()
		r.mu.Lock()
		if r.live[jobID] == sub {
			delete(r.live, jobID)
		}
		r.mu.Unlock()
	}()
	return sub, nil
}

// Live returns the number of subscriptions whose connection is still held.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sub := range r.live {
		select {
		case <-sub.Done():
		default:
			n++
		}
	}
	return n
}

// CloseAll closes every live subscription.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.live))
	for _, sub := range r.live {
		subs = append(subs, sub)
	}
	r.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
