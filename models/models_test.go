package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnectionEvent(t *testing.T) {
	event := NewConnectionEvent(ConnectionEventRegistered, "conn-1").
		WithTenant("tenant-a").
		WithResourceKey("proj1").
		WithRemoteAddr("10.0.0.1:5555").
		WithDetails(map[string]interface{}{"evicted": "conn-0"})

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, "conn-1", event.ConnectionID)
	assert.Equal(t, ConnectionEventRegistered, event.EventType)
	require.NotNil(t, event.TenantID)
	assert.Equal(t, "tenant-a", *event.TenantID)
	require.NotNil(t, event.ResourceKey)
	assert.Equal(t, "proj1", *event.ResourceKey)
	assert.Equal(t, "10.0.0.1:5555", event.RemoteAddr)
	assert.False(t, event.Timestamp.IsZero())

	var details map[string]string
	require.NoError(t, json.Unmarshal(event.Details, &details))
	assert.Equal(t, "conn-0", details["evicted"])
}

func TestConnectionEvent_EmptyOptionalFieldsStayNil(t *testing.T) {
	event := NewConnectionEvent(ConnectionEventRejected, "").
		WithTenant("").
		WithResourceKey("").
		WithReason("")

	assert.Nil(t, event.TenantID)
	assert.Nil(t, event.ResourceKey)
	assert.Nil(t, event.Reason)
	assert.Equal(t, "connection_events", ConnectionEvent{}.TableName())
}
