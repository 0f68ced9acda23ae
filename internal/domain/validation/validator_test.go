package validation

import (
	"strings"
	"testing"

	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidator(t *testing.T) {
	v := NewValidator()
	assert.NotNil(t, v)
	assert.NotNil(t, v.validate)
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := NewValidator()

	t.Run("valid boot notification", func(t *testing.T) {
		req := ocpp16.BootNotificationRequest{
			ChargePointVendor: "Vendor",
			ChargePointModel:  "Model-X",
		}
		assert.NoError(t, v.ValidateStruct(req))
	})

	t.Run("missing required fields", func(t *testing.T) {
		req := ocpp16.BootNotificationRequest{}
		err := v.ValidateStruct(req)
		require.Error(t, err)

		verrs, ok := err.(ValidationErrors)
		require.True(t, ok)
		assert.Len(t, verrs, 2)
	})

	t.Run("field exceeds max length", func(t *testing.T) {
		req := ocpp16.AuthorizeRequest{
			IdTag: strings.Repeat("A", 21),
		}
		err := v.ValidateStruct(req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "IdTag")
	})
}

func TestIsSupportedAction(t *testing.T) {
	for _, action := range []string{
		"BootNotification", "Heartbeat", "StatusNotification",
		"FirmwareStatusNotification", "Authorize",
		"StartTransaction", "StopTransaction", "MeterValues",
	} {
		assert.True(t, IsSupportedAction(action), action)
	}

	for _, action := range []string{"Reset", "DataTransfer", "UnlockConnector", ""} {
		assert.False(t, IsSupportedAction(action), action)
	}
}

func TestValidator_ValidateStationID(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name      string
		stationID string
		wantErr   bool
	}{
		{"valid id", "ST-0001", false},
		{"valid with underscore", "station_42", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 49), true},
		{"illegal characters", "ST 01/..", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStationID(tt.stationID)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_ValidateMessageSize(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateMessageSize(make([]byte, 100), 100))
	err := v.ValidateMessageSize(make([]byte, 101), 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}
