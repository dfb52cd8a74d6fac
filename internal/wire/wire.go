// Package wire encodes and decodes the OCPP-J message envelope:
//
//	Call:       [2, messageId, action, payload]
//	CallResult: [3, messageId, payload]
//	CallError:  [4, messageId, errorCode, errorDescription, errorDetails]
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocppj"
)

type MessageType int

const (
	CALL        MessageType = 2
	CALL_RESULT MessageType = 3
	CALL_ERROR  MessageType = 4
)

// FormationViolation is reported for frames and payloads that cannot be
// decoded. ocppj names this code differently per protocol version.
const FormationViolation ocpp.ErrorCode = "FormationViolation"

var emptyObject = json.RawMessage(`{}`)

// Message is one of *Call, *CallResult or *CallError.
type Message interface {
	GetMessageTypeId() MessageType
	GetUniqueId() string
	json.Marshaler
}

type Call struct {
	UniqueId string
	Action   string
	Payload  json.RawMessage
}

func (c *Call) GetMessageTypeId() MessageType { return CALL }
func (c *Call) GetUniqueId() string           { return c.UniqueId }

func (c *Call) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{CALL, c.UniqueId, c.Action, orEmpty(c.Payload)})
}

type CallResult struct {
	UniqueId string
	Payload  json.RawMessage
}

func (c *CallResult) GetMessageTypeId() MessageType { return CALL_RESULT }
func (c *CallResult) GetUniqueId() string           { return c.UniqueId }

func (c *CallResult) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{CALL_RESULT, c.UniqueId, orEmpty(c.Payload)})
}

type CallError struct {
	UniqueId         string
	ErrorCode        ocpp.ErrorCode
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

func (c *CallError) GetMessageTypeId() MessageType { return CALL_ERROR }
func (c *CallError) GetUniqueId() string           { return c.UniqueId }

func (c *CallError) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{CALL_ERROR, c.UniqueId, c.ErrorCode, c.ErrorDescription, orEmpty(c.ErrorDetails)})
}

// Err converts the CallError into an error. It unwraps to an *ocpp.Error
// and keeps the error details.
func (c *CallError) Err() *RemoteError {
	return &RemoteError{
		Err:     ocpp.NewError(c.ErrorCode, c.ErrorDescription, c.UniqueId),
		Details: c.ErrorDetails,
	}
}

// RemoteError is a CallError received from the peer.
type RemoteError struct {
	Err     *ocpp.Error
	Details json.RawMessage
}

func (e *RemoteError) Error() string {
	if !hasDetails(e.Details) {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (details: %s)", e.Err.Error(), e.Details)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// hasDetails reports whether details carries more than an empty object.
func hasDetails(details json.RawMessage) bool {
	trimmed := bytes.TrimSpace(details)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, emptyObject) && !bytes.Equal(trimmed, []byte("null"))
}

// NewCallError builds a CallError from an error. An *ocpp.Error keeps its
// code and description, anything else is reported as an InternalError.
func NewCallError(uniqueId string, err error) *CallError {
	var ocppErr *ocpp.Error
	if errors.As(err, &ocppErr) {
		return &CallError{UniqueId: uniqueId, ErrorCode: ocppErr.Code, ErrorDescription: ocppErr.Description}
	}
	return &CallError{UniqueId: uniqueId, ErrorCode: ocppj.InternalError, ErrorDescription: err.Error()}
}

// Encode serializes a message to its text frame.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Parse decodes a text frame. Every failure is returned as an *ocpp.Error
// with code FormationViolation; its MessageId is set whenever the frame
// carried a readable message id.
func Parse(data []byte) (Message, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, formationViolation("", "invalid message envelope: %v", err)
	}
	if len(fields) < 3 {
		return nil, formationViolation(uniqueIdOf(fields), "invalid message envelope: expected at least 3 elements, got %d", len(fields))
	}
	var typeId MessageType
	if err := json.Unmarshal(fields[0], &typeId); err != nil {
		return nil, formationViolation(uniqueIdOf(fields), "invalid message type id %s", fields[0])
	}
	var uniqueId string
	if err := json.Unmarshal(fields[1], &uniqueId); err != nil || uniqueId == "" {
		return nil, formationViolation("", "invalid message id %s", fields[1])
	}

	switch typeId {
	case CALL:
		if len(fields) != 4 {
			return nil, formationViolation(uniqueId, "invalid Call: expected 4 elements, got %d", len(fields))
		}
		var action string
		if err := json.Unmarshal(fields[2], &action); err != nil || action == "" {
			return nil, formationViolation(uniqueId, "invalid Call action %s", fields[2])
		}
		if !isObject(fields[3]) {
			return nil, formationViolation(uniqueId, "invalid Call payload: expected a JSON object")
		}
		return &Call{UniqueId: uniqueId, Action: action, Payload: fields[3]}, nil
	case CALL_RESULT:
		if len(fields) != 3 {
			return nil, formationViolation(uniqueId, "invalid CallResult: expected 3 elements, got %d", len(fields))
		}
		if !isObject(fields[2]) {
			return nil, formationViolation(uniqueId, "invalid CallResult payload: expected a JSON object")
		}
		return &CallResult{UniqueId: uniqueId, Payload: fields[2]}, nil
	case CALL_ERROR:
		if len(fields) < 4 || len(fields) > 5 {
			return nil, formationViolation(uniqueId, "invalid CallError: expected 5 elements, got %d", len(fields))
		}
		callError := &CallError{UniqueId: uniqueId}
		if err := json.Unmarshal(fields[2], &callError.ErrorCode); err != nil {
			return nil, formationViolation(uniqueId, "invalid CallError code %s", fields[2])
		}
		if err := json.Unmarshal(fields[3], &callError.ErrorDescription); err != nil {
			return nil, formationViolation(uniqueId, "invalid CallError description %s", fields[3])
		}
		if len(fields) == 5 {
			callError.ErrorDetails = fields[4]
		}
		return callError, nil
	default:
		return nil, formationViolation(uniqueId, "unsupported message type %d", typeId)
	}
}

func formationViolation(uniqueId string, format string, args ...any) *ocpp.Error {
	return ocpp.NewError(FormationViolation, fmt.Sprintf(format, args...), uniqueId)
}

// uniqueIdOf best-effort extracts the message id of a broken envelope.
func uniqueIdOf(fields []json.RawMessage) string {
	if len(fields) < 2 {
		return ""
	}
	var id string
	if err := json.Unmarshal(fields[1], &id); err != nil {
		return ""
	}
	return id
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return emptyObject
	}
	return raw
}
