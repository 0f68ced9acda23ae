package ocpp16

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateTime_MarshalJSON(t *testing.T) {
	dt := DateTime{Time: time.Date(2023, 12, 25, 10, 30, 45, 0, time.UTC)}

	data, err := json.Marshal(dt)
	require.NoError(t, err)

	expected := `"2023-12-25T10:30:45Z"`
	assert.Equal(t, expected, string(data))
}

func TestDateTime_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Time
		wantErr  bool
	}{
		{
			name:     "valid RFC3339 time",
			input:    `"2023-12-25T10:30:45Z"`,
			expected: time.Date(2023, 12, 25, 10, 30, 45, 0, time.UTC),
			wantErr:  false,
		},
		{
			name:     "valid RFC3339 time with timezone",
			input:    `"2023-12-25T10:30:45+08:00"`,
			expected: time.Date(2023, 12, 25, 2, 30, 45, 0, time.UTC),
			wantErr:  false,
		},
		{
			name:    "null value",
			input:   `null`,
			wantErr: false,
		},
		{
			name:    "invalid format",
			input:   `"invalid-time"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dt DateTime
			err := json.Unmarshal([]byte(tt.input), &dt)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				if tt.input != `null` {
					assert.True(t, tt.expected.Equal(dt.Time))
				}
			}
		})
	}
}

func TestStopTransactionRequest_JSON(t *testing.T) {
	raw := `{
		"transactionId": 42,
		"meterStop": 15230,
		"timestamp": "2024-03-01T08:15:00Z",
		"reason": "Remote",
		"transactionData": [
			{
				"timestamp": "2024-03-01T08:14:00Z",
				"sampledValue": [
					{"value": "15230", "measurand": "Energy.Active.Import.Register", "unit": "Wh"}
				]
			}
		]
	}`

	var req StopTransactionRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))

	assert.Equal(t, 42, req.TransactionId)
	assert.Equal(t, 15230, req.MeterStop)
	require.NotNil(t, req.Reason)
	assert.Equal(t, ReasonRemote, *req.Reason)
	require.Len(t, req.TransactionData, 1)
	require.Len(t, req.TransactionData[0].SampledValue, 1)
	assert.Equal(t, "15230", req.TransactionData[0].SampledValue[0].Value)
}

func TestMeterValuesRequest_OptionalTransactionId(t *testing.T) {
	raw := `{
		"connectorId": 1,
		"meterValue": [
			{"timestamp": "2024-03-01T08:00:00Z", "sampledValue": [{"value": "120.5"}]}
		]
	}`

	var req MeterValuesRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))

	assert.Equal(t, 1, req.ConnectorId)
	assert.Nil(t, req.TransactionId)
}

func TestRemoteStartTransactionRequest_JSON(t *testing.T) {
	connectorID := 2
	req := RemoteStartTransactionRequest{
		ConnectorId: &connectorID,
		IdTag:       "RFID-0001",
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"connectorId":2,"idTag":"RFID-0001"}`, string(data))
}

func TestGetConfigurationResponse_OmitsEmptyLists(t *testing.T) {
	resp := GetConfigurationResponse{}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}
