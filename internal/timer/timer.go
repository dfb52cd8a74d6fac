// Package timer implements the command timer used by a charge point session
// to emit delayed or periodic central-system-initiated commands.
package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// Timer invokes a callback once after an interval, or repeatedly with the
// interval measured from the end of one invocation to the next.
type Timer struct {
	clock     clock.Clock
	interval  time.Duration
	repeating bool
	callback  func() error
	logger    log.FieldLogger

	mu        sync.Mutex
	cancelled bool
	fired     int

	stop chan struct{}
	done chan struct{}
}

// Schedule starts counting down immediately. A nil clock means the wall clock.
func Schedule(clk clock.Clock, interval time.Duration, repeating bool, callback func() error, logger log.FieldLogger) (*Timer, error) {
	if interval <= 0 {
		return nil, errors.NotValidf("timer interval %v", interval)
	}
	if callback == nil {
		return nil, errors.NotValidf("nil timer callback")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	t := &Timer{
		clock:     clk,
		interval:  interval,
		repeating: repeating,
		callback:  callback,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.loop()
	return t, nil
}

func (t *Timer) loop() {
	defer close(t.done)
	for {
		countdown := t.clock.NewTimer(t.interval)
		select {
		case <-t.stop:
			countdown.Stop()
			return
		case <-countdown.Chan():
		}
		if !t.begin() {
			return
		}
		t.invoke()
		if !t.repeating {
			return
		}
	}
}

// begin serializes a fire against Cancel: once Cancel has returned, begin
// never reports true again.
func (t *Timer) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.fired++
	return true
}

func (t *Timer) invoke() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.WithError(fmt.Errorf("%v", r)).Error("command timer callback panicked")
		}
	}()
	if err := t.callback(); err != nil {
		t.logger.WithError(err).Error("command timer callback failed")
	}
}

// Cancel stops the timer. It does not wait for an in-flight callback.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	close(t.stop)
}

func (t *Timer) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Fired reports how many times the callback has been started.
func (t *Timer) Fired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

func (t *Timer) Interval() time.Duration { return t.interval }

func (t *Timer) Repeating() bool { return t.repeating }

// Done is closed once the timer goroutine has exited: after the single
// invocation of a one-shot timer, or after cancellation.
func (t *Timer) Done() <-chan struct{} { return t.done }

// Retired reports whether Done is closed.
func (t *Timer) Retired() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
