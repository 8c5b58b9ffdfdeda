package audit

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDisabledDispatcherIsNilAndSafe(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: false}, sink)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher must report zero counters")
	}
	if sink.count.Load() != 0 {
		t.Fatal("disabled dispatcher must not call the sink")
	}
}

func TestDispatcherDeliversAndStampsTimestamp(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{EventType: "refresh_success", CheckID: "c1", Success: true})

	select {
	case ev := <-sink.Events():
		if ev.EventType != "refresh_success" || ev.CheckID != "c1" || !ev.Success {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be stamped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	start := time.Now()
	d.Emit(context.Background(), Event{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: false}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestBlockedEmitHonorsContext(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, Event{EventType: "e3"})
	if time.Since(start) > time.Second {
		t.Fatal("expected emit to return once ctx is done")
	}
}

func TestCloseDrainsAndIsIdempotent(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "e"})
	}
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{EventType: "after-close"})

	if got := sink.count.Load(); got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}
	if got := d.Delivered(); got != 5 {
		t.Fatalf("expected Delivered 5, got %d", got)
	}
}

func TestJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		Timestamp: time.Now().UTC(),
		EventType: "tokens_cleared",
		CheckID:   "c1",
		Outcome:   "refresh_rejected",
		Metadata:  map[string]string{"status": "401"},
	})
	sink.Emit(context.Background(), Event{EventType: "sign_out", Success: true})

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out)
	}
	for _, want := range []string{`"event_type":"tokens_cleared"`, `"check_id":"c1"`, `"status":"401"`} {
		if !strings.Contains(lines[0], want) {
			t.Fatalf("expected %s in %s", want, lines[0])
		}
	}
	if strings.Contains(lines[1], "check_id") {
		t.Fatal("empty check id must be omitted")
	}
}
