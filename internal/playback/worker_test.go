package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeDevice struct {
	mu      sync.Mutex
	writes  [][]float32
	failAt  int
	n       int
	failErr error
}

func (d *fakeDevice) Write(buf []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]float32, len(buf))
	copy(cp, buf)
	d.writes = append(d.writes, cp)
	d.n++
	if d.failAt > 0 && d.n >= d.failAt {
		return d.failErr
	}
	return nil
}

func (d *fakeDevice) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}

func TestWorkerDrainsAndWritesBlocks(t *testing.T) {
	b := New(24000)
	b.PushBytes(floatsToBytes([]float32{1, 2, 3}))

	dev := &fakeDevice{failAt: 1, failErr: errors.New("stop")}
	w := NewWorker(b, dev, 5)

	err := w.Run(context.Background())
	if err == nil {
		t.Fatal("expected error from fake device to terminate Run")
	}
	if dev.count() != 1 {
		t.Fatalf("expected 1 write, got %d", dev.count())
	}
	got := dev.writes[0]
	want := []float32{1, 2, 3, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	b := New(24000)
	dev := &fakeDevice{}
	w := NewWorker(b, dev, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected orderly shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
