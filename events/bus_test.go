package events

import (
	"sync"
	"testing"
)

func TestBus_OnAndOff(t *testing.T) {
	t.Parallel()

	b := NewBus(nil)

	var got []string
	off := b.On("a", func(e Event) { got = append(got, "a:"+e.ClientID) })
	b.OnAny(func(e Event) { got = append(got, "any:"+e.Name) })

	b.Emit("c1", "a", nil)
	b.Emit("c1", "b", nil)
	off()
	off()
	b.Emit("c2", "a", nil)

	want := []string{"a:c1", "any:a", "any:b", "any:a"}
	if len(got) != len(want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%q want=%q", i, got[i], want[i])
		}
	}
}

func TestBus_PublishFillsIDAndTS(t *testing.T) {
	t.Parallel()

	b := NewBus(nil)
	var seen Event
	b.OnAny(func(e Event) { seen = e })
	b.Publish(Event{Name: "x"})

	if len(seen.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", seen.ID)
	}
	if seen.TS.IsZero() {
		t.Fatalf("expected timestamp")
	}
}

func TestBus_HandlerPanicIsolated(t *testing.T) {
	t.Parallel()

	b := NewBus(nil)
	called := false
	b.On("x", func(Event) { panic("boom") })
	b.On("x", func(Event) { called = true })

	b.Emit("", "x", nil)
	if !called {
		t.Fatalf("second handler not called after panic")
	}
}

func TestSubscription_FilterAndDrop(t *testing.T) {
	t.Parallel()

	b := NewBus(nil)
	s := b.Subscribe(1, func(e Event) bool { return e.Name == "keep" })
	defer s.Close()

	b.Emit("", "skip", nil)
	b.Emit("", "keep", 1)
	b.Emit("", "keep", 2)

	e := <-s.C
	if e.Payload.(int) != 1 {
		t.Fatalf("payload=%v want 1", e.Payload)
	}
	if s.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", s.Dropped())
	}

	s.Close()
	s.Close()
	select {
	case <-s.Done():
	default:
		t.Fatalf("expected done after close")
	}
	b.Emit("", "keep", 3)
	select {
	case e := <-s.C:
		t.Fatalf("unexpected event after close: %+v", e)
	default:
	}
}

func TestBus_ConcurrentEmit(t *testing.T) {
	t.Parallel()

	b := NewBus(nil)
	var (
		mu sync.Mutex
		n  int
	)
	b.On("x", func(Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit("", "x", nil)
		}()
	}
	wg.Wait()

	if n != 50 {
		t.Fatalf("n=%d want 50", n)
	}
}
