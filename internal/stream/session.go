package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateIdle State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason records what closed a Session.
type CloseReason int32

const (
	ReasonNone CloseReason = iota
	ReasonEnd
	ReasonError
	ReasonCancel
)

func (r CloseReason) String() string {
	switch r {
	case ReasonEnd:
		return "end"
	case ReasonError:
		return "error"
	case ReasonCancel:
		return "cancel"
	default:
		return "none"
	}
}

// Source is one open transport channel.
type Source interface {
	// Next blocks until the next event arrives. It returns io.EOF when the
	// peer closed the channel.
	Next(ctx context.Context) (Event, error)

	// Close releases the channel and unblocks Next.
	Close() error
}

// Session is one open server-push channel.
type Session struct {
	h       Handler
	logger  *slog.Logger
	metrics *Metrics

	cancel context.CancelFunc

	mu       sync.Mutex
	src      Source
	released bool

	state  atomic.Int32
	reason atomic.Int32
	done   chan struct{}
}

func newSession(h Handler, logger *slog.Logger, metrics *Metrics, cancel context.CancelFunc) *Session {
	return &Session{
		h:       h,
		logger:  logger,
		metrics: metrics,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Reason returns what closed the session, or ReasonNone while open.
func (s *Session) Reason() CloseReason {
	return CloseReason(s.reason.Load())
}

// Done is closed once the session has stopped dispatching events.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close cancels the session. It is safe to call at any time, from any
// goroutine, any number of times; only the first call on an open session
// has an effect. A handler call already in progress is not interrupted.
func (s *Session) Close() error {
	s.close(ReasonCancel)
	return nil
}

// close moves open -> closed. It reports whether this call made the
// transition.
func (s *Session) close(reason CloseReason) bool {
	if !s.state.CompareAndSwap(int32(StateOpen), int32(StateClosed)) {
		return false
	}
	s.reason.Store(int32(reason))
	s.cancel()
	s.release()
	s.metrics.closed(reason)
	s.logger.Debug("Stream closed", "reason", reason.String())
	return true
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	if s.src == nil {
		return
	}
	if err := s.src.Close(); err != nil {
		s.logger.Debug("Failed to release stream transport", "error", err)
	}
}

// attach binds a freshly dialed src. If the session was closed while
// dialing, src is released at once and attach reports false.
func (s *Session) attach(src Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		_ = src.Close()
		return false
	}
	s.src = src
	return true
}

// run is the dispatch loop. It owns every handler invocation.
func (s *Session) run(ctx context.Context, src Source) {
	defer close(s.done)

	for {
		ev, err := src.Next(ctx)
		if err != nil {
			s.fail(ctx, err)
			return
		}
		// A Close racing this check can still let the event already read
		// through; nothing after it is delivered.
		if s.State() != StateOpen {
			return
		}

		switch ev.Name {
		case EventStart:
			st := parseStart(ev.Data)
			s.dispatch(EventStart, func() { s.h.OnStart(st) })
		case EventToken:
			s.metrics.token()
			s.dispatch(EventToken, func() { s.h.OnToken(ev.Data) })
		case EventEnd:
			if s.close(ReasonEnd) {
				s.dispatch(EventEnd, s.h.OnEnd)
			}
			return
		case EventError:
			if s.close(ReasonError) {
				serr := &StreamError{Message: ev.Data}
				s.dispatch(EventError, func() { s.h.OnError(serr) })
			}
			return
		default:
			s.logger.Debug("Ignoring unknown stream event", "event", ev.Name)
		}
	}
}

// fail handles a transport error from Next.
func (s *Session) fail(ctx context.Context, err error) {
	if s.State() != StateOpen {
		// Closed by the caller; the error is the release unblocking Next.
		return
	}
	if ctx.Err() != nil {
		s.close(ReasonCancel)
		return
	}

	msg := err.Error()
	if errors.Is(err, io.EOF) {
		msg = "stream ended without an end event"
		err = io.ErrUnexpectedEOF
	}
	if s.close(ReasonError) {
		serr := &StreamError{Message: msg, Transport: true, Err: err}
		s.dispatch(EventError, func() { s.h.OnError(serr) })
	}
}

// dispatch invokes fn and recovers a handler panic.
func (s *Session) dispatch(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.handlerFault(event)
			s.logger.Error("Stream handler panicked", "event", event, "panic", r)
		}
	}()
	fn()
}
