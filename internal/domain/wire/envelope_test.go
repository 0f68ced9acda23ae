package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCall(t *testing.T) {
	data, err := EncodeCall("msg-001", "Heartbeat", struct{}{})
	require.NoError(t, err)
	assert.JSONEq(t, `[2,"msg-001","Heartbeat",{}]`, string(data))
}

func TestEncodeCallResult(t *testing.T) {
	payload := map[string]interface{}{"currentTime": "2024-01-01T00:00:00Z"}
	data, err := EncodeCallResult("msg-002", payload)
	require.NoError(t, err)
	assert.JSONEq(t, `[3,"msg-002",{"currentTime":"2024-01-01T00:00:00Z"}]`, string(data))
}

func TestEncodeCallError(t *testing.T) {
	data, err := EncodeCallError("msg-003", ErrNotImplemented, "Unsupported action: Reset")
	require.NoError(t, err)
	assert.JSONEq(t, `[4,"msg-003","NotImplemented","Unsupported action: Reset",{}]`, string(data))
}

func TestDecodeCall(t *testing.T) {
	raw := `[2,"12345","BootNotification",{"chargePointVendor":"Vendor","chargePointModel":"Model"}]`
	frame, err := Decode([]byte(raw))
	require.NoError(t, err)

	assert.True(t, frame.IsCall())
	assert.Equal(t, "12345", frame.MessageID)
	assert.Equal(t, "BootNotification", frame.Action)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, "Vendor", payload["chargePointVendor"])
}

func TestDecodeCallResult(t *testing.T) {
	raw := `[3,"12345",{"status":"Accepted"}]`
	frame, err := Decode([]byte(raw))
	require.NoError(t, err)

	assert.True(t, frame.IsCallResult())
	assert.Equal(t, "12345", frame.MessageID)
	assert.Empty(t, frame.Action)
}

func TestDecodeCallError(t *testing.T) {
	raw := `[4,"12345","InternalError","boom",{"detail":"x"}]`
	frame, err := Decode([]byte(raw))
	require.NoError(t, err)

	assert.True(t, frame.IsCallError())
	assert.Equal(t, ErrInternalError, frame.ErrorCode)
	assert.Equal(t, "boom", frame.ErrorDescription)
	assert.NotNil(t, frame.ErrorDetails)
}

func TestDecodeCallErrorWithoutDetails(t *testing.T) {
	raw := `[4,"12345","NotImplemented","unsupported"]`
	frame, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, ErrNotImplemented, frame.ErrorCode)
	assert.Nil(t, frame.ErrorDetails)
}

func TestDecodeInvalidFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not an array", `{"messageTypeId":2}`},
		{"too short", `[2,"id"]`},
		{"call with wrong arity", `[2,"id","Heartbeat"]`},
		{"call result with extra element", `[3,"id",{},{}]`},
		{"unknown message type", `[7,"id",{}]`},
		{"empty message id", `[2,"","Heartbeat",{}]`},
		{"non-string message id", `[2,42,"Heartbeat",{}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	var target struct {
		IdTag string `json:"idTag"`
	}
	err := DecodePayload(json.RawMessage(`{"idTag":"RFID-1"}`), &target)
	require.NoError(t, err)
	assert.Equal(t, "RFID-1", target.IdTag)

	err = DecodePayload(json.RawMessage(`not json`), &target)
	assert.Error(t, err)
}
