package stream

import (
	"context"
	"log/slog"
)

// Dialer opens the transport for one conversation turn.
type Dialer interface {
	Dial(ctx context.Context, p Params) (Source, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, p Params) (Source, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, p Params) (Source, error) {
	return f(ctx, p)
}

// Demux opens Sessions over a Dialer.
type Demux struct {
	dialer  Dialer
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Demux.
type Option func(*Demux)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Demux) { d.logger = logger }
}

// WithMetrics records session counters.
func WithMetrics(m *Metrics) Option {
	return func(d *Demux) { d.metrics = m }
}

// New creates a Demux over dialer.
func New(dialer Dialer, opts ...Option) *Demux {
	d := &Demux{
		dialer: dialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open starts streaming one turn. The credential in p is captured now;
// later session changes do not affect an open channel.
//
// Open returns an error only when p is invalid. A failure to connect is
// reported to h.OnError and the returned Session is already closed.
// Cancelling ctx is equivalent to calling Close on the Session.
func (d *Demux) Open(ctx context.Context, p Params, h Handler) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if h == nil {
		h = NopHandler{}
	}

	ctx, cancel := context.WithCancel(ctx)
	s := newSession(h, d.logger.With("conversation_id", p.ConversationID), d.metrics, cancel)
	s.state.Store(int32(StateOpen))
	d.metrics.opened()

	src, err := d.dialer.Dial(ctx, p)
	if err != nil && ctx.Err() != nil {
		s.logger.Debug("Stream cancelled while dialing", "error", err)
		s.close(ReasonCancel)
		close(s.done)
		return s, nil
	}
	if err != nil {
		s.logger.Warn("Failed to open stream", "error", err)
		if s.close(ReasonError) {
			serr := &StreamError{Message: err.Error(), Transport: true, Err: err}
			s.dispatch(EventError, func() { h.OnError(serr) })
		}
		close(s.done)
		return s, nil
	}
	if !s.attach(src) {
		close(s.done)
		return s, nil
	}

	s.logger.Debug("Stream opened")
	go s.run(ctx, src)
	return s, nil
}
