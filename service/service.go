// Package service supervises the EC's concurrent long-running tasks
// (Status Engine, Protocol Engine, Admin RPC): start them together,
// stop them together, in reverse start order.
//
// Grounded on the teacher's service.ProcessMonitor, which guarded a
// single Start/Stop pair behind a mutex and a stored cancel func; here
// that same guard generalizes to a list of Runners so the Bootstrap
// component (C8) has one place to start and drain everything.
package service

import (
	"context"
	"fmt"

	"github.com/criptocracia/ec-core/log"
)

// Runner is the shared lifecycle shape of every long-running
// component: Status Engine, Protocol Engine and Admin RPC each
// implement it.
type Runner interface {
	Start(ctx context.Context) error
	Stop() error
}

// Supervisor starts a fixed set of named Runners together and stops
// them together, in reverse order, so a later service that depends on
// an earlier one's state never outlives it.
type Supervisor struct {
	names   []string
	runners []Runner
}

// NewSupervisor returns an empty Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Add registers a Runner under name. Order is significant: Stop walks
// the list in reverse.
func (s *Supervisor) Add(name string, r Runner) {
	s.names = append(s.names, name)
	s.runners = append(s.runners, r)
}

// Start starts every registered Runner in registration order. If one
// fails, every Runner started so far is stopped before returning the
// error.
func (s *Supervisor) Start(ctx context.Context) error {
	for i, r := range s.runners {
		if err := r.Start(ctx); err != nil {
			s.stopFrom(i - 1)
			return fmt.Errorf("start %s: %w", s.names[i], err)
		}
		log.Infow("service started", "name", s.names[i])
	}
	return nil
}

// Stop stops every registered Runner in reverse registration order,
// continuing past individual failures so a stuck service cannot block
// the rest of shutdown.
func (s *Supervisor) Stop() {
	s.stopFrom(len(s.runners) - 1)
}

func (s *Supervisor) stopFrom(last int) {
	for i := last; i >= 0; i-- {
		if err := s.runners[i].Stop(); err != nil {
			log.Warnw("service stop failed", "name", s.names[i], "error", err.Error())
			continue
		}
		log.Infow("service stopped", "name", s.names[i])
	}
}
