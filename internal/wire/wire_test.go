package wire

import (
	"encoding/json"
	"testing"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocppj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCall(t *testing.T) {
	msg, err := Parse([]byte(`[2,"msg-1","Heartbeat",{}]`))
	require.NoError(t, err)

	call, ok := msg.(*Call)
	require.True(t, ok)
	assert.Equal(t, CALL, call.GetMessageTypeId())
	assert.Equal(t, "msg-1", call.GetUniqueId())
	assert.Equal(t, "Heartbeat", call.Action)
	assert.JSONEq(t, `{}`, string(call.Payload))
}

func TestParseCallResult(t *testing.T) {
	msg, err := Parse([]byte(`[3, "abc", {"status":"Accepted"}]`))
	require.NoError(t, err)

	result, ok := msg.(*CallResult)
	require.True(t, ok)
	assert.Equal(t, "abc", result.UniqueId)
	assert.JSONEq(t, `{"status":"Accepted"}`, string(result.Payload))
}

func TestParseCallError(t *testing.T) {
	msg, err := Parse([]byte(`[4,"abc","NotImplemented","unknown action",{"hint":1}]`))
	require.NoError(t, err)

	callError, ok := msg.(*CallError)
	require.True(t, ok)
	assert.Equal(t, ocppj.NotImplemented, callError.ErrorCode)
	assert.Equal(t, "unknown action", callError.ErrorDescription)
	assert.JSONEq(t, `{"hint":1}`, string(callError.ErrorDetails))

	remote := callError.Err()
	assert.Equal(t, ocppj.NotImplemented, remote.Err.Code)
	assert.Equal(t, "abc", remote.Err.MessageId)
	assert.JSONEq(t, `{"hint":1}`, string(remote.Details))
	assert.Contains(t, remote.Error(), `{"hint":1}`)

	var ocppErr *ocpp.Error
	require.ErrorAs(t, remote, &ocppErr)
	assert.Equal(t, "unknown action", ocppErr.Description)
}

func TestCallErrorWithoutDetails(t *testing.T) {
	msg, err := Parse([]byte(`[4,"abc","InternalError","boom",{}]`))
	require.NoError(t, err)

	remote := msg.(*CallError).Err()
	assert.Equal(t, remote.Err.Error(), remote.Error())
}

func TestRoundTrip(t *testing.T) {
	frames := []string{
		`[2,"1","BootNotification",{"reason":"PowerUp"}]`,
		`[3,"2",{"currentTime":"2024-01-01T00:00:00Z"}]`,
		`[4,"3","InternalError","boom",{}]`,
		`[2,"4","ClearCache",{}]`,
	}
	for _, frame := range frames {
		t.Run(frame, func(t *testing.T) {
			msg, err := Parse([]byte(frame))
			require.NoError(t, err)

			data, err := Encode(msg)
			require.NoError(t, err)
			assert.JSONEq(t, frame, string(data))

			again, err := Parse(data)
			require.NoError(t, err)
			assert.Equal(t, msg, again)
		})
	}
}

func TestEncodeFillsEmptyObjects(t *testing.T) {
	data, err := Encode(&Call{UniqueId: "1", Action: "ClearCache"})
	require.NoError(t, err)
	assert.JSONEq(t, `[2,"1","ClearCache",{}]`, string(data))

	data, err = Encode(&CallError{UniqueId: "2", ErrorCode: ocppj.InternalError, ErrorDescription: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `[4,"2","InternalError","x",{}]`, string(data))
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		uniqueId string
	}{
		{"not json", `hello`, ""},
		{"not an array", `{"a":1}`, ""},
		{"too short", `[2,"id-1"]`, "id-1"},
		{"bad type id", `["x","id-2","Heartbeat",{}]`, "id-2"},
		{"unknown type id", `[7,"id-3","Heartbeat",{}]`, "id-3"},
		{"numeric message id", `[2,5,"Heartbeat",{}]`, ""},
		{"call missing payload", `[2,"id-4","Heartbeat"]`, "id-4"},
		{"call payload not object", `[2,"id-5","Heartbeat",[]]`, "id-5"},
		{"call empty action", `[2,"id-6","",{}]`, "id-6"},
		{"result payload not object", `[3,"id-7","ok"]`, "id-7"},
		{"error bad code", `[4,"id-8",12,"x",{}]`, "id-8"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			msg, err := Parse([]byte(test.frame))
			assert.Nil(t, msg)
			require.Error(t, err)

			ocppErr, ok := err.(*ocpp.Error)
			require.True(t, ok)
			assert.Equal(t, FormationViolation, ocppErr.Code)
			assert.Equal(t, test.uniqueId, ocppErr.MessageId)
		})
	}
}

func TestNewCallError(t *testing.T) {
	callError := NewCallError("1", ocpp.NewError(FormationViolation, "bad payload", ""))
	assert.Equal(t, FormationViolation, callError.ErrorCode)
	assert.Equal(t, "bad payload", callError.ErrorDescription)

	callError = NewCallError("2", assert.AnError)
	assert.Equal(t, ocppj.InternalError, callError.ErrorCode)
	assert.Equal(t, assert.AnError.Error(), callError.ErrorDescription)

	data, err := json.Marshal(callError)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"InternalError"`)
}
