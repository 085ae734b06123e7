package async

import (
	"errors"
	"sync"
	"testing"
)

type recordingLogger struct {
	mu   sync.Mutex
	logs []string
}

func (r *recordingLogger) Error(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, format)
}

func (r *recordingLogger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs)
}

func TestGoRecoversPanic(t *testing.T) {
	logger := &recordingLogger{}
	done := make(chan struct{})
	Go(logger, "test.panic", func() {
		defer close(done)
		panic("boom")
	})
	<-done
	if logger.count() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logger.count())
	}
}

func TestFanOutIsolatesPanicsAndErrors(t *testing.T) {
	logger := &recordingLogger{}
	var called [3]bool
	var mu sync.Mutex
	var errs []int

	fns := []func() error{
		func() error { mu.Lock(); called[0] = true; mu.Unlock(); return nil },
		func() error { panic("middle one explodes") },
		func() error { mu.Lock(); called[2] = true; mu.Unlock(); return errors.New("boom") },
	}

	FanOut(logger, "fanout.test", fns, func(i int, err error) {
		mu.Lock()
		errs = append(errs, i)
		mu.Unlock()
	})

	if !called[0] || !called[2] {
		t.Fatalf("expected sibling functions to run: %+v", called)
	}
	if logger.count() != 1 {
		t.Fatalf("expected panic to be logged once, got %d", logger.count())
	}
	if len(errs) != 1 || errs[0] != 2 {
		t.Fatalf("expected error callback for index 2, got %+v", errs)
	}
}
