// Package session runs the OCPP-J protocol for one charge point connection:
// the receive loop, inbound dispatch, the single pending outbound call and
// the command timer.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocppj"
	log "github.com/sirupsen/logrus"

	"dummy_ocpp_cs/internal/timer"
	"dummy_ocpp_cs/internal/wire"
)

const DefaultCallTimeout = 30 * time.Second

type State int32

const (
	StateConnected State = iota
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Config struct {
	Actions     *Actions
	Registry    *Registry
	Clock       clock.Clock
	CallTimeout time.Duration
	Logger      log.FieldLogger
	Subprotocol string
}

type pendingCall struct {
	uniqueId string
	action   string
	done     chan callResult
}

type callResult struct {
	payload json.RawMessage
	err     error
}

type Session struct {
	id          string
	subprotocol string
	connectedAt time.Time

	transport   Transport
	actions     *Actions
	registry    *Registry
	clock       clock.Clock
	callTimeout time.Duration
	logger      log.FieldLogger

	// ctx is cancelled by Close; commands fired by the timer run under it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	started bool
	pending *pendingCall
	timer   *timer.Timer

	closeOnce sync.Once
}

// New creates the session for an accepted connection and adds it to the registry.
func New(id string, transport Transport, cfg Config) (*Session, error) {
	if id == "" {
		return nil, errors.NotValidf("empty charge point identity")
	}
	if transport == nil {
		return nil, errors.NotValidf("nil transport")
	}
	if cfg.Actions == nil {
		return nil, errors.NotValidf("nil action table")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          id,
		subprotocol: cfg.Subprotocol,
		connectedAt: cfg.Clock.Now(),
		transport:   transport,
		actions:     cfg.Actions,
		registry:    cfg.Registry,
		clock:       cfg.Clock,
		callTimeout: cfg.CallTimeout,
		logger:      cfg.Logger.WithField("cp", id),
		ctx:         ctx,
		cancel:      cancel,
		state:       StateConnected,
	}
	s.registry.Add(s)
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Subprotocol() string { return s.subprotocol }

func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

func (s *Session) Logger() log.FieldLogger { return s.logger }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingAction returns the action of the outstanding call, if any.
func (s *Session) PendingAction() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return "", false
	}
	return s.pending.action, true
}

// CommandTimer returns the timer armed by ScheduleCommand, or nil.
func (s *Session) CommandTimer() *timer.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer
}

// Start runs the receive loop until the transport closes or ctx ends.
// Frames are handled one at a time in arrival order. The session is closed
// when Start returns.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.Errorf("session %s already started", s.id)
	}
	s.started = true
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		data, err := s.transport.ReadMessage()
		if err != nil {
			closedLocally := s.State() == StateClosed
			s.Close()
			if closedLocally {
				return nil
			}
			return errors.Annotatef(ErrConnectionClosed, "%s: %v", s.id, err)
		}
		s.handleFrame(s.ctx, data)
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	msg, err := wire.Parse(data)
	if err != nil {
		s.logger.WithError(err).WithField("frame", string(data)).Warn("malformed message")
		uniqueId := ""
		var ocppErr *ocpp.Error
		if errors.As(err, &ocppErr) {
			uniqueId = ocppErr.MessageId
		}
		s.sendCallError(uniqueId, err)
		return
	}
	s.Dispatch(ctx, msg)
}

// Dispatch handles one decoded message. Calls go to the action table;
// CallResult and CallError resolve the pending call when their id matches.
func (s *Session) Dispatch(ctx context.Context, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.Call:
		s.handleCall(ctx, m)
	case *wire.CallResult:
		s.resolve(m.UniqueId, callResult{payload: m.Payload})
	case *wire.CallError:
		s.resolve(m.UniqueId, callResult{err: m.Err()})
	default:
		s.logger.Warnf("unexpected message %T", msg)
	}
}

func (s *Session) handleCall(ctx context.Context, call *wire.Call) {
	logger := s.logger.WithFields(log.Fields{
		"action":     call.Action,
		"message_id": call.UniqueId,
	})

	handler, ok := s.actions.Handler(call.Action)
	if !ok {
		logger.Warn("action not implemented")
		s.sendCallError(call.UniqueId, ocpp.NewError(ocppj.NotImplemented,
			fmt.Sprintf("action %s is not implemented", call.Action), call.UniqueId))
		return
	}

	response, err := s.invoke(ctx, handler, call.Payload)
	if err != nil {
		var ocppErr *ocpp.Error
		if errors.As(err, &ocppErr) && ocppErr.Code == wire.FormationViolation {
			logger.WithError(err).Warn("rejected malformed payload")
		} else {
			logger.WithError(err).WithField("payload", string(call.Payload)).Error("handler failed")
		}
		s.sendCallError(call.UniqueId, err)
		return
	}

	payload, err := json.Marshal(response)
	if err != nil {
		logger.WithError(err).Error("cannot marshal response")
		s.sendCallError(call.UniqueId, errors.Annotate(err, "marshalling response"))
		return
	}
	if err := s.send(&wire.CallResult{UniqueId: call.UniqueId, Payload: payload}); err != nil {
		logger.WithError(err).Warn("failed to send CallResult")
	}
}

func (s *Session) invoke(ctx context.Context, handler Handler, payload json.RawMessage) (response any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, s, payload)
}

func (s *Session) sendCallError(uniqueId string, cause error) {
	if uniqueId == "" {
		uniqueId = uuid.NewString()
	}
	if err := s.send(wire.NewCallError(uniqueId, cause)); err != nil {
		s.logger.WithError(err).WithField("message_id", uniqueId).Warn("failed to send CallError")
	}
}

func (s *Session) send(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return errors.Trace(err)
	}
	if err := s.transport.WriteMessage(data); err != nil {
		return errors.Trace(err)
	}
	s.logger.WithField("frame", string(data)).Debug("sent")
	return nil
}

func (s *Session) resolve(uniqueId string, result callResult) {
	s.mu.Lock()
	p := s.pending
	if p == nil || p.uniqueId != uniqueId {
		s.mu.Unlock()
		s.logger.WithField("message_id", uniqueId).Warn("discarding response to unknown call")
		return
	}
	s.pending = nil
	s.mu.Unlock()
	p.done <- result
}

func (s *Session) clearPending(p *pendingCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == p {
		s.pending = nil
	}
}

// Call sends a request to the charge point and waits for its response.
// Only one call may be outstanding: a second one fails with ErrBusy. A
// CallError reply is returned as a *wire.RemoteError, which unwraps to an
// *ocpp.Error.
func (s *Session) Call(ctx context.Context, action string, payload any) (json.RawMessage, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Annotatef(err, "marshalling %s request", action)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, errors.Annotatef(ErrConnectionClosed, "calling %s", action)
	}
	if s.pending != nil {
		pending := s.pending
		s.mu.Unlock()
		return nil, errors.Annotatef(ErrBusy, "calling %s while %s (%s) is pending", action, pending.action, pending.uniqueId)
	}
	p := &pendingCall{
		uniqueId: uuid.NewString(),
		action:   action,
		done:     make(chan callResult, 1),
	}
	s.pending = p
	s.mu.Unlock()

	if err := s.send(&wire.Call{UniqueId: p.uniqueId, Action: action, Payload: data}); err != nil {
		s.clearPending(p)
		return nil, errors.Annotatef(ErrConnectionClosed, "sending %s: %v", action, err)
	}

	countdown := s.clock.NewTimer(s.callTimeout)
	defer countdown.Stop()

	select {
	case result := <-p.done:
		return result.payload, result.err
	case <-countdown.Chan():
		s.clearPending(p)
		return nil, errors.Annotatef(ErrTimeout, "no response to %s (%s) within %v", action, p.uniqueId, s.callTimeout)
	case <-ctx.Done():
		s.clearPending(p)
		return nil, errors.Annotatef(ErrCancelled, "%s (%s): %v", action, p.uniqueId, ctx.Err())
	}
}

// ScheduleCommand arms the command timer for action: after delay once, or
// every period. Exactly one of them must be positive. While a timer is armed
// further requests are ignored.
func (s *Session) ScheduleCommand(action string, delay, period time.Duration) error {
	var interval time.Duration
	repeating := false
	switch {
	case delay < 0 || period < 0:
		return errors.NotValidf("negative interval for command %s", action)
	case delay > 0 && period > 0:
		return errors.NotValidf("both delay and period for command %s", action)
	case delay > 0:
		interval = delay
	case period > 0:
		interval = period
		repeating = true
	default:
		return errors.NotValidf("missing delay or period for command %s", action)
	}

	command, ok := s.actions.Command(action)
	if !ok {
		return errors.NotSupportedf("command %s", action)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return errors.Annotatef(ErrConnectionClosed, "scheduling %s", action)
	}
	if s.timer != nil && !s.timer.Retired() {
		s.logger.WithField("command", action).Debug("command timer already armed")
		return nil
	}

	logger := s.logger.WithField("command", action)
	t, err := timer.Schedule(s.clock, interval, repeating, func() error {
		return s.runCommand(action, command)
	}, logger)
	if err != nil {
		return errors.Trace(err)
	}
	s.timer = t
	logger.WithFields(log.Fields{
		"interval":  interval,
		"repeating": repeating,
	}).Info("command scheduled")
	return nil
}

func (s *Session) runCommand(action string, command Command) error {
	s.logger.Debugf("Sending OCPP command %s", action)
	return errors.Annotatef(command(s.ctx, s), "command %s", action)
}

// Trigger runs an outbound command immediately and waits for it to finish.
func (s *Session) Trigger(ctx context.Context, action string) error {
	command, ok := s.actions.Command(action)
	if !ok {
		return errors.NotSupportedf("command %s", action)
	}
	if s.State() == StateClosed {
		return errors.Annotatef(ErrConnectionClosed, "triggering %s", action)
	}
	s.logger.Debugf("Sending OCPP command %s", action)
	return errors.Annotatef(command(ctx, s), "command %s", action)
}

// Close cancels the command timer, fails the pending call with ErrCancelled,
// leaves the registry and closes the transport. Only the first call has any
// effect. It does not wait for a running command to finish.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		t := s.timer
		p := s.pending
		s.pending = nil
		s.mu.Unlock()

		s.cancel()
		if t != nil {
			t.Cancel()
		}
		if p != nil {
			p.done <- callResult{err: errors.Annotatef(ErrCancelled, "%s (%s): session closed", p.action, p.uniqueId)}
		}
		s.registry.Remove(s)
		if err := s.transport.Close(); err != nil {
			s.logger.WithError(err).Debug("closing transport")
		}

		s.logger.Infof("ChargePoint %s closed connection", s.id)
		s.logger.Debugf("Connected ChargePoint(s): %d", s.registry.Len())
	})
	return nil
}
