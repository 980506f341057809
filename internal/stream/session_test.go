package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeSource is a Source whose events are injected by the test.
type fakeSource struct {
	events     chan Event
	errs       chan error
	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan Event, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeSource) Next(ctx context.Context) (Event, error) {
	select {
	case <-f.closed:
		return Event{}, errors.New("source closed")
	default:
	}
	select {
	case ev := <-f.events:
		return ev, nil
	case err := <-f.errs:
		return Event{}, err
	case <-f.closed:
		return Event{}, errors.New("source closed")
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (f *fakeSource) Close() error {
	f.closeCalls.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSource) inject(name, data string) {
	f.events <- Event{Name: name, Data: data}
}

func (f *fakeSource) released() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// recorder records handler calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
	errs  []error
	start []Start
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) OnStart(s Start) {
	r.mu.Lock()
	r.start = append(r.start, s)
	r.mu.Unlock()
	r.add("start")
}

func (r *recorder) OnToken(text string) { r.add("token:" + text) }
func (r *recorder) OnEnd()              { r.add("end") }

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.add("error")
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func validParams() Params {
	return Params{Question: "x", Credential: "tok", TopK: 5, Alpha: 0.7, UseMMR: true}
}

func openFake(t *testing.T, h Handler, opts ...Option) (*Session, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	d := New(DialerFunc(func(context.Context, Params) (Source, error) { return src, nil }), opts...)
	s, err := d.Open(context.Background(), validParams(), h)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s, src
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to finish")
	}
}

func equalCalls(t *testing.T, got, want []string) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Expected calls %v, got %v", want, got)
	}
}

func TestStreamDeliversEventsInOrder(t *testing.T) {
	t.Parallel()

	var got Params
	src := newFakeSource()
	d := New(DialerFunc(func(_ context.Context, p Params) (Source, error) {
		got = p
		return src, nil
	}))

	rec := &recorder{}
	s, err := d.Open(context.Background(), validParams(), rec)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s.State() != StateOpen {
		t.Fatalf("Expected open state, got %s", s.State())
	}

	src.inject(EventStart, `{"conversation_id":"c-1"}`)
	src.inject(EventToken, "a")
	src.inject(EventToken, "b")
	src.inject(EventEnd, "")
	waitDone(t, s)

	equalCalls(t, rec.snapshot(), []string{"start", "token:a", "token:b", "end"})
	if s.State() != StateClosed || s.Reason() != ReasonEnd {
		t.Errorf("Expected closed by end, got %s/%s", s.State(), s.Reason())
	}
	if rec.start[0].ConversationID != "c-1" {
		t.Errorf("Expected conversation id c-1, got %q", rec.start[0].ConversationID)
	}

	q := got.Query()
	if q.Get("question") != "x" || q.Get("top_k") != "5" || q.Get("alpha") != "0.7" || q.Get("use_mmr") != "true" {
		t.Errorf("Unexpected query encoding: %v", q)
	}
	if q.Has("token") {
		t.Error("Query must not carry the credential")
	}
}

func TestStreamIgnoresEventsAfterEnd(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s, src := openFake(t, rec)

	src.inject(EventToken, "a")
	src.inject(EventEnd, "")
	waitDone(t, s)

	src.inject(EventToken, "late")
	src.inject(EventError, "late")
	time.Sleep(20 * time.Millisecond)

	if err := s.Close(); err != nil {
		t.Fatalf("Close after end failed: %v", err)
	}
	_ = s.Close()

	equalCalls(t, rec.snapshot(), []string{"token:a", "end"})
	if s.Reason() != ReasonEnd {
		t.Errorf("Close after end must not change reason, got %s", s.Reason())
	}
	if n := src.closeCalls.Load(); n != 1 {
		t.Errorf("Expected transport released once, got %d", n)
	}
}

func TestStreamCloseBeforeAnyEventReleasesTransport(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s, src := openFake(t, rec)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitDone(t, s)

	if !src.released() {
		t.Fatal("Expected transport to be released")
	}
	if s.State() != StateClosed || s.Reason() != ReasonCancel {
		t.Errorf("Expected closed by cancel, got %s/%s", s.State(), s.Reason())
	}

	src.inject(EventToken, "late")
	time.Sleep(20 * time.Millisecond)
	if calls := rec.snapshot(); len(calls) != 0 {
		t.Errorf("Expected no handler calls, got %v", calls)
	}
	_ = s.Close()
	if n := src.closeCalls.Load(); n != 1 {
		t.Errorf("Expected transport released once, got %d", n)
	}
}

func TestStreamErrorEvent(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s, src := openFake(t, rec)

	src.inject(EventToken, "a")
	src.inject(EventError, "No chunks found for user")
	src.inject(EventToken, "b")
	waitDone(t, s)

	equalCalls(t, rec.snapshot(), []string{"token:a", "error"})
	var serr *StreamError
	if !errors.As(rec.errs[0], &serr) {
		t.Fatalf("Expected *StreamError, got %T", rec.errs[0])
	}
	if serr.Transport || serr.Message != "No chunks found for user" {
		t.Errorf("Unexpected error: %+v", serr)
	}
	if s.Reason() != ReasonError || !src.released() {
		t.Errorf("Expected closed and released by error, got %s", s.Reason())
	}
}

func TestStreamTransportFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"reset", errors.New("connection reset by peer"), nil},
		{"eof without end", io.EOF, io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := &recorder{}
			s, src := openFake(t, rec)

			src.errs <- tt.err
			waitDone(t, s)

			equalCalls(t, rec.snapshot(), []string{"error"})
			var serr *StreamError
			if !errors.As(rec.errs[0], &serr) || !serr.Transport {
				t.Fatalf("Expected transport StreamError, got %v", rec.errs[0])
			}
			if tt.want != nil && !errors.Is(rec.errs[0], tt.want) {
				t.Errorf("Expected %v in chain, got %v", tt.want, rec.errs[0])
			}
			if s.Reason() != ReasonError {
				t.Errorf("Expected reason error, got %s", s.Reason())
			}
		})
	}
}

type panickyHandler struct {
	recorder
	panicOn string
}

func (p *panickyHandler) OnToken(text string) {
	p.recorder.OnToken(text)
	if text == p.panicOn {
		panic("boom")
	}
}

func (p *panickyHandler) OnEnd() {
	p.recorder.OnEnd()
	if p.panicOn == "end" {
		panic("boom at end")
	}
}

func TestStreamContainsHandlerPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := &panickyHandler{panicOn: "a"}
	s, src := openFake(t, h, WithMetrics(m))

	src.inject(EventToken, "a")
	src.inject(EventToken, "b")
	src.inject(EventEnd, "")
	waitDone(t, s)

	equalCalls(t, h.snapshot(), []string{"token:a", "token:b", "end"})
	if got := testutil.ToFloat64(m.faultsTotal.WithLabelValues(EventToken)); got != 1 {
		t.Errorf("Expected 1 handler fault, got %v", got)
	}
	if got := testutil.ToFloat64(m.tokensTotal); got != 2 {
		t.Errorf("Expected 2 tokens, got %v", got)
	}
	if got := testutil.ToFloat64(m.closedTotal.WithLabelValues("end")); got != 1 {
		t.Errorf("Expected 1 end close, got %v", got)
	}
}

func TestStreamPanicInEndHandlerStillCloses(t *testing.T) {
	t.Parallel()

	h := &panickyHandler{panicOn: "end"}
	s, src := openFake(t, h)

	src.inject(EventEnd, "")
	waitDone(t, s)

	if s.State() != StateClosed || !src.released() {
		t.Errorf("Expected closed and released, got %s", s.State())
	}
}

func TestStreamDialFailure(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	d := New(DialerFunc(func(context.Context, Params) (Source, error) {
		return nil, errors.New("connection refused")
	}), WithMetrics(m))

	rec := &recorder{}
	s, err := d.Open(context.Background(), validParams(), rec)
	if err != nil {
		t.Fatalf("Dial failures must not be returned, got %v", err)
	}
	waitDone(t, s)

	equalCalls(t, rec.snapshot(), []string{"error"})
	if s.State() != StateClosed || s.Reason() != ReasonError {
		t.Errorf("Expected closed by error, got %s/%s", s.State(), s.Reason())
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close after dial failure failed: %v", err)
	}
	if got := testutil.ToFloat64(m.openedTotal); got != 1 {
		t.Errorf("Expected 1 opened, got %v", got)
	}
}

func TestStreamContextCancel(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	d := New(DialerFunc(func(context.Context, Params) (Source, error) { return src, nil }))
	ctx, cancel := context.WithCancel(context.Background())

	rec := &recorder{}
	s, err := d.Open(ctx, validParams(), rec)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	cancel()
	waitDone(t, s)

	if s.Reason() != ReasonCancel {
		t.Errorf("Expected reason cancel, got %s", s.Reason())
	}
	if !src.released() {
		t.Error("Expected transport released")
	}
	if calls := rec.snapshot(); len(calls) != 0 {
		t.Errorf("Cancellation must not call handlers, got %v", calls)
	}
}

func TestStreamCancelDuringDial(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	d := New(DialerFunc(func(dctx context.Context, _ Params) (Source, error) {
		cancel()
		<-dctx.Done()
		return nil, fmt.Errorf("dial: %w", dctx.Err())
	}))

	rec := &recorder{}
	s, err := d.Open(ctx, validParams(), rec)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitDone(t, s)

	if s.Reason() != ReasonCancel {
		t.Errorf("Expected reason cancel, got %s", s.Reason())
	}
	if calls := rec.snapshot(); len(calls) != 0 {
		t.Errorf("Cancellation while dialing must not call handlers, got %v", calls)
	}
}

func TestStreamUnknownEventsSkipped(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s, src := openFake(t, rec)

	src.inject("message", "ignored")
	src.inject("ping", "")
	src.inject(EventToken, "a")
	src.inject(EventEnd, "")
	waitDone(t, s)

	equalCalls(t, rec.snapshot(), []string{"token:a", "end"})
}

func TestOpenRejectsInvalidParams(t *testing.T) {
	t.Parallel()

	dialed := false
	d := New(DialerFunc(func(context.Context, Params) (Source, error) {
		dialed = true
		return newFakeSource(), nil
	}))

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"empty question", func(p *Params) { p.Question = "  " }},
		{"no credential", func(p *Params) { p.Credential = "" }},
		{"zero top_k", func(p *Params) { p.TopK = 0 }},
		{"alpha above one", func(p *Params) { p.Alpha = 1.5 }},
		{"negative alpha", func(p *Params) { p.Alpha = -0.1 }},
		{"NaN alpha", func(p *Params) { p.Alpha = math.NaN() }},
		{"infinite alpha", func(p *Params) { p.Alpha = math.Inf(1) }},
	}

	for _, tt := range tests {
		p := validParams()
		tt.mutate(&p)
		if _, err := d.Open(context.Background(), p, nil); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("%s: expected ErrInvalidParams, got %v", tt.name, err)
		}
	}
	if dialed {
		t.Error("Invalid params must not dial")
	}
}

func TestNilHandlerAndFuncsDefaults(t *testing.T) {
	t.Parallel()

	s, src := openFake(t, nil)
	src.inject(EventStart, "")
	src.inject(EventToken, "a")
	src.inject(EventEnd, "")
	waitDone(t, s)

	var tokens []string
	s2, src2 := openFake(t, Funcs{Token: func(text string) { tokens = append(tokens, text) }})
	src2.inject(EventStart, "c-2")
	src2.inject(EventToken, "z")
	src2.inject(EventError, "bad")
	waitDone(t, s2)

	if len(tokens) != 1 || tokens[0] != "z" {
		t.Errorf("Expected only the token callback to fire, got %v", tokens)
	}
}

func TestParseStart(t *testing.T) {
	t.Parallel()

	if st := parseStart(`{"conversation_id":"abc","model":"gpt"}`); st.ConversationID != "abc" || len(st.Raw) == 0 {
		t.Errorf("Unexpected start: %+v", st)
	}
	if st := parseStart("abc"); st.ConversationID != "abc" {
		t.Errorf("Expected bare id, got %+v", st)
	}
	if st := parseStart(""); st.ConversationID != "" {
		t.Errorf("Expected empty start, got %+v", st)
	}
}
