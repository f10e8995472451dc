package stage

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"carepipe/internal/logger"
)

// Event reports a worker leaving its loop.
type Event struct {
	Worker string
	Err    error
	At     time.Time
}

type worker struct {
	name string
	run  func(ctx context.Context) error
}

// Supervisor runs one worker per queue. The first worker to fail stops the rest.
type Supervisor struct {
	logger  logger.Logger
	workers []worker
	events  chan Event
	once    sync.Once
}

func NewSupervisor(log logger.Logger) *Supervisor {
	return &Supervisor{logger: log, events: make(chan Event, 16)}
}

func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.workers = append(s.workers, worker{name: name, run: run})
}

// Events is closed once Run returns.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

func (s *Supervisor) Run(ctx context.Context) error {
	defer s.once.Do(func() { close(s.events) })

	g, gCtx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		w := w
		g.Go(func() error {
			s.logger.InfowCtx(gCtx, "Worker started", "worker", w.name)
			err := w.run(gCtx)
			if errors.Is(err, context.Canceled) {
				err = nil
			}

			s.emit(Event{Worker: w.name, Err: err, At: time.Now()})
			if err != nil {
				s.logger.ErrorwCtx(gCtx, "Worker stopped", "worker", w.name, "error", err)
				return err
			}
			s.logger.InfowCtx(gCtx, "Worker stopped", "worker", w.name)
			return nil
		})
	}
	return g.Wait()
}

func (s *Supervisor) emit(e Event) {
	select {
	case s.events <- e:
	default:
	}
}
