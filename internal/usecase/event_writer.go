package usecase

import (
	"sync"

	"github.com/sirupsen/logrus"

	"lineagemon/internal/domain"
	"lineagemon/internal/repository"
)

// EventWriter drains a bounded queue of events into the structured sink
// from a single dedicated goroutine. The queue applies backpressure:
// when full, Enqueue blocks the scan loop instead of dropping events,
// since alert loss is a correctness issue.
type EventWriter struct {
	sink   repository.EventSink
	logger *logrus.Logger
	queue  chan *domain.Event
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
	gate    failureGate
	stats   struct {
		emitted int64
		failed  int64
	}
}

// NewEventWriter creates a writer with the given queue capacity.
func NewEventWriter(sink repository.EventSink, queueSize int, logger *logrus.Logger) *EventWriter {
	return &EventWriter{
		sink:   sink,
		logger: logger,
		queue:  make(chan *domain.Event, queueSize),
	}
}

// Start launches the single writer goroutine.
func (w *EventWriter) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return domain.ErrAlreadyRunning
	}
	w.running = true

	w.wg.Add(1)
	go w.drain()
	return nil
}

// Enqueue hands an event to the writer, blocking while the queue is
// full. Must not be called after Stop.
func (w *EventWriter) Enqueue(event *domain.Event) {
	w.queue <- event
}

// Stop closes the queue, drains every pending event and closes the
// sink. No event accepted by Enqueue is lost.
func (w *EventWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.queue)
	w.wg.Wait()

	if err := w.sink.Close(); err != nil {
		w.logger.Warnf("[!] Failed to close structured sink: %v", err)
	}
}

func (w *EventWriter) drain() {
	defer w.wg.Done()

	for event := range w.queue {
		err := w.sink.Emit(event)

		w.mu.Lock()
		if err != nil {
			w.stats.failed++
			logNow := w.gate.fail()
			w.mu.Unlock()
			if logNow {
				w.logger.Warnf("[!] Structured sink write failed (suppressing repeats): %v", err)
			}
			continue
		}
		w.stats.emitted++
		suppressed, recovered := w.gate.ok()
		w.mu.Unlock()
		if recovered {
			w.logger.Infof("[+] Structured sink recovered after %d failed writes", suppressed+1)
		}
	}
}

// GetStats returns writer statistics
func (w *EventWriter) GetStats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return map[string]interface{}{
		"running":        w.running,
		"events_emitted": w.stats.emitted,
		"events_failed":  w.stats.failed,
		"queue_length":   len(w.queue),
		"queue_capacity": cap(w.queue),
	}
}

// failureGate implements once-per-burst failure logging: the first
// failure of a burst is logged, repeats are counted silently, and the
// count is reported when writes recover.
type failureGate struct {
	inFailure  bool
	suppressed int64
}

// fail records a failure and reports whether it should be logged.
func (g *failureGate) fail() bool {
	if g.inFailure {
		g.suppressed++
		return false
	}
	g.inFailure = true
	g.suppressed = 0
	return true
}

// ok records a success and reports how many failures the burst
// suppressed, if one just ended.
func (g *failureGate) ok() (int64, bool) {
	if !g.inFailure {
		return 0, false
	}
	g.inFailure = false
	return g.suppressed, true
}
