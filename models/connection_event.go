package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ConnectionEventType is one step in a backend connection's lifecycle.
type ConnectionEventType string

const (
	ConnectionEventAdmitted     ConnectionEventType = "connection_admitted"
	ConnectionEventRejected     ConnectionEventType = "connection_rejected"
	ConnectionEventRegistered   ConnectionEventType = "connection_registered"
	ConnectionEventEvicted      ConnectionEventType = "connection_evicted"
	ConnectionEventDisconnected ConnectionEventType = "connection_disconnected"
)

// ConnectionEvent is an audit trail entry for a backend connection.
// Credentials are never recorded.
type ConnectionEvent struct {
	ID           uuid.UUID           `json:"id" db:"id"`
	ConnectionID string              `json:"connection_id" db:"connection_id"`
	TenantID     *string             `json:"tenant_id,omitempty" db:"tenant_id"`
	ResourceKey  *string             `json:"resource_key,omitempty" db:"resource_key"`
	EventType    ConnectionEventType `json:"event_type" db:"event_type"`
	Reason       *string             `json:"reason,omitempty" db:"reason"`
	RemoteAddr   string              `json:"remote_addr" db:"remote_addr"`
	Details      json.RawMessage     `json:"details,omitempty" db:"details"` // JSONB
	Timestamp    time.Time           `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the ConnectionEvent model
func (ConnectionEvent) TableName() string {
	return "connection_events"
}

// NewConnectionEvent creates a new ConnectionEvent instance
func NewConnectionEvent(eventType ConnectionEventType, connectionID string) *ConnectionEvent {
	return &ConnectionEvent{
		ID:           uuid.New(),
		ConnectionID: connectionID,
		EventType:    eventType,
		Timestamp:    time.Now().UTC(),
	}
}

// WithTenant sets the tenant. An empty tenant is left unset.
func (e *ConnectionEvent) WithTenant(tenantID string) *ConnectionEvent {
	if tenantID != "" {
		e.TenantID = &tenantID
	}
	return e
}

// WithResourceKey sets the resource key. An empty key is left unset.
func (e *ConnectionEvent) WithResourceKey(resourceKey string) *ConnectionEvent {
	if resourceKey != "" {
		e.ResourceKey = &resourceKey
	}
	return e
}

// WithReason sets the reason
func (e *ConnectionEvent) WithReason(reason string) *ConnectionEvent {
	if reason != "" {
		e.Reason = &reason
	}
	return e
}

// WithRemoteAddr sets the peer address
func (e *ConnectionEvent) WithRemoteAddr(addr string) *ConnectionEvent {
	e.RemoteAddr = addr
	return e
}

// WithDetails sets the details
func (e *ConnectionEvent) WithDetails(details interface{}) *ConnectionEvent {
	if data, err := json.Marshal(details); err == nil {
		e.Details = data
	}
	return e
}
