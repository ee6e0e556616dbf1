package heartbeat

import (
	"encoding/json"
	"errors"
	"time"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// SubjectPrefix is the subject prefix for heartbeat messages.
const SubjectPrefix = "heartbeat."

// Instance statuses, in the order an instance moves through them.
const (
	StatusServing  = "serving"
	StatusDraining = "draining"
	StatusStopped  = "stopped"
)

// Heartbeat is a single status announcement from a server instance.
type Heartbeat struct {
	// InstanceID uniquely identifies the sending instance (the pod host name).
	InstanceID string `json:"instance_id"`

	// Timestamp when the heartbeat was generated.
	Timestamp time.Time `json:"timestamp"`

	// Status is one of StatusServing, StatusDraining or StatusStopped.
	Status string `json:"status"`

	// InFlight is the number of requests being worked on.
	InFlight int64 `json:"in_flight"`

	// Load is a normalized load metric (0.0 to 1.0).
	Load float64 `json:"load"`

	// Metadata contains additional key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Marshal serializes a heartbeat to JSON.
func (h *Heartbeat) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// Unmarshal deserializes a heartbeat from JSON.
func Unmarshal(data []byte) (*Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Subject returns the subject for this heartbeat.
func (h *Heartbeat) Subject() string {
	return SubjectPrefix + h.InstanceID
}
