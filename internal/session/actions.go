package session

import (
	"context"
	"encoding/json"
	"sort"

	log "github.com/sirupsen/logrus"
)

// ChargePoint is the view of a session that action handlers and commands get.
type ChargePoint interface {
	ID() string
	Logger() log.FieldLogger
	Call(ctx context.Context, action string, payload any) (json.RawMessage, error)
}

// Handler answers a Call received from the charge point. The returned value
// is marshalled as the CallResult payload. Returning an *ocpp.Error selects
// the CallError code, any other error is reported as InternalError.
//
// Handlers run on the receive loop and must not Call the same charge point.
type Handler func(ctx context.Context, cp ChargePoint, payload json.RawMessage) (any, error)

// Command issues one central-system-initiated request and inspects its reply.
type Command func(ctx context.Context, cp ChargePoint) error

// Actions is the static action table: inbound handlers and outbound commands
// keyed by OCPP action name. It is not modified after construction.
type Actions struct {
	handlers map[string]Handler
	commands map[string]Command
}

func NewActions(handlers map[string]Handler, commands map[string]Command) *Actions {
	a := &Actions{
		handlers: make(map[string]Handler, len(handlers)),
		commands: make(map[string]Command, len(commands)),
	}
	for name, h := range handlers {
		a.handlers[name] = h
	}
	for name, c := range commands {
		a.commands[name] = c
	}
	return a
}

func (a *Actions) Handler(action string) (Handler, bool) {
	h, ok := a.handlers[action]
	return h, ok
}

func (a *Actions) Command(action string) (Command, bool) {
	c, ok := a.commands[action]
	return c, ok
}

func (a *Actions) HandlerNames() []string {
	return sortedKeys(a.handlers)
}

func (a *Actions) CommandNames() []string {
	return sortedKeys(a.commands)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
