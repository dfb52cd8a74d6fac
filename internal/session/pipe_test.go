package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocppj"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"dummy_ocpp_cs/internal/wire"
)

// pipeTransport is an in-memory Transport. Frames written by the session
// land on out unless respond is set, in which case respond answers them.
type pipeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	closes atomic.Int32

	mu      sync.Mutex
	sent    []wire.Message
	respond func(msg wire.Message) wire.Message
}

func newPipe() *pipeTransport {
	return &pipeTransport{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (p *pipeTransport) ReadMessage() ([]byte, error) {
	select {
	case <-p.closed:
		return nil, ErrConnectionClosed
	case data := <-p.in:
		return data, nil
	}
}

func (p *pipeTransport) WriteMessage(data []byte) error {
	select {
	case <-p.closed:
		return ErrConnectionClosed
	default:
	}
	msg, err := wire.Parse(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.sent = append(p.sent, msg)
	respond := p.respond
	p.mu.Unlock()

	if respond == nil {
		p.out <- data
		return nil
	}
	if reply := respond(msg); reply != nil {
		encoded, err := wire.Encode(reply)
		if err != nil {
			return err
		}
		p.deliver(encoded)
	}
	return nil
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() {
		p.closes.Add(1)
		close(p.closed)
	})
	return nil
}

func (p *pipeTransport) deliver(data []byte) {
	select {
	case p.in <- data:
	case <-p.closed:
	}
}

func (p *pipeTransport) setRespond(respond func(msg wire.Message) wire.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.respond = respond
}

// callsTo counts the Calls for action written by the session.
func (p *pipeTransport) callsTo(action string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, msg := range p.sent {
		if call, ok := msg.(*wire.Call); ok && call.Action == action {
			n++
		}
	}
	return n
}

func (p *pipeTransport) send(frame string) {
	p.deliver([]byte(frame))
}

func (p *pipeTransport) next(t *testing.T) wire.Message {
	t.Helper()
	select {
	case data := <-p.out:
		msg, err := wire.Parse(data)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written by the session")
		return nil
	}
}

func (p *pipeTransport) nextCall(t *testing.T) *wire.Call {
	t.Helper()
	msg := p.next(t)
	call, ok := msg.(*wire.Call)
	require.True(t, ok, "expected Call, got %T", msg)
	return call
}

func testActions() *Actions {
	return NewActions(map[string]Handler{
		"Heartbeat": func(ctx context.Context, cp ChargePoint, payload json.RawMessage) (any, error) {
			return map[string]string{"currentTime": "2024-01-01T00:00:00Z"}, nil
		},
		"Fail": func(ctx context.Context, cp ChargePoint, payload json.RawMessage) (any, error) {
			return nil, errors.New("database unavailable")
		},
		"Reject": func(ctx context.Context, cp ChargePoint, payload json.RawMessage) (any, error) {
			return nil, ocpp.NewError(ocppj.SecurityError, "not allowed", "")
		},
		"Panic": func(ctx context.Context, cp ChargePoint, payload json.RawMessage) (any, error) {
			panic("boom")
		},
	}, map[string]Command{
		"ClearCache": func(ctx context.Context, cp ChargePoint) error {
			_, err := cp.Call(ctx, "ClearCache", struct{}{})
			return err
		},
	})
}

func newTestSession(t *testing.T, registry *Registry, id string) (*Session, *pipeTransport) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	pipe := newPipe()
	s, err := New(id, pipe, Config{
		Actions:     testActions(),
		Registry:    registry,
		CallTimeout: time.Second,
		Logger:      logger,
		Subprotocol: "ocpp2.0.1",
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, pipe
}

func start(s *Session) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	return done
}

func waitStopped(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not stop")
		return nil
	}
}

type callOutcome struct {
	payload json.RawMessage
	err     error
}

func callAsync(s *Session, action string, payload any) <-chan callOutcome {
	done := make(chan callOutcome, 1)
	go func() {
		result, err := s.Call(context.Background(), action, payload)
		done <- callOutcome{result, err}
	}()
	return done
}

func waitOutcome(t *testing.T, done <-chan callOutcome) callOutcome {
	t.Helper()
	select {
	case outcome := <-done:
		return outcome
	case <-time.After(3 * time.Second):
		t.Fatal("call did not return")
		return callOutcome{}
	}
}
