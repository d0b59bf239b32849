// Package stimulus shows a dot field for a fixed time and then hides it.
package stimulus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iburimskiy/stroop-dots/internal/dots"
	"go.uber.org/zap"
)

var (
	// ErrPresentationPending is returned when Present is called while
	// another presentation is still visible.
	ErrPresentationPending = errors.New("stimulus presentation already pending")
	// ErrInvalidDuration is returned for non-positive durations.
	ErrInvalidDuration = fmt.Errorf("%w: duration must be positive", dots.ErrInvalidConfiguration)
)

// Surface renders a field. Show and Hide may be called from any goroutine.
type Surface interface {
	Show(f dots.Field)
	Hide()
}

// State is where a presentation is in its lifecycle.
type State int32

const (
	Idle State = iota
	Visible
	Hidden
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Presenter runs one timed presentation at a time on a Surface.
type Presenter struct {
	surface Surface
	log     *zap.Logger

	// OnShown, if set, runs right after the field becomes visible.
	OnShown func()

	state atomic.Int32
}

// NewPresenter returns a Presenter drawing on s.
func NewPresenter(s Surface, log *zap.Logger) *Presenter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Presenter{surface: s, log: log}
}

// State returns the state of the current or last presentation.
func (p *Presenter) State() State { return State(p.state.Load()) }

// Present shows f, waits d from the moment it became visible, hides it and
// returns nil. If ctx ends first the field is hidden early and ctx.Err() is
// returned. The field is hidden exactly once per call.
func (p *Presenter) Present(ctx context.Context, f dots.Field, d time.Duration) error {
	if d <= 0 {
		return ErrInvalidDuration
	}
	if old := p.state.Load(); old == int32(Visible) || !p.state.CompareAndSwap(old, int32(Visible)) {
		return ErrPresentationPending
	}

	var once sync.Once
	hide := func() {
		once.Do(func() {
			p.surface.Hide()
			p.state.Store(int32(Hidden))
		})
	}

	done := make(chan struct{})
	p.surface.Show(f)
	start := time.Now()
	timer := time.AfterFunc(d, func() {
		hide()
		close(done)
	})
	if p.OnShown != nil {
		p.OnShown()
	}

	select {
	case <-done:
		p.log.Debug("stimulus hidden",
			zap.Int("dots", len(f)),
			zap.Duration("shown_for", time.Since(start)))
		return nil
	case <-ctx.Done():
		if !timer.Stop() {
			// The timer won the race: the stimulus ran its full duration.
			<-done
			p.log.Debug("stimulus hidden",
				zap.Int("dots", len(f)),
				zap.Duration("shown_for", time.Since(start)))
			return nil
		}
		hide()
		p.log.Debug("stimulus cancelled", zap.Duration("shown_for", time.Since(start)))
		return ctx.Err()
	}
}
