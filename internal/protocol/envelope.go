// ABOUTME: Command envelope and response wire types shared by gateway and agent
// ABOUTME: Defines the status state machine and JSON encoding for the channel

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeviceType identifies the class of hardware a command targets.
type DeviceType string

const (
	DeviceTerminal      DeviceType = "Terminal"
	DeviceFiscalPrinter DeviceType = "FiscalPrinter"
)

// CommandType names the operation carried by an envelope.
type CommandType string

const (
	CommandAuthorizePayment   CommandType = "AuthorizePayment"
	CommandCapturePayment     CommandType = "CapturePayment"
	CommandRefundPayment      CommandType = "RefundPayment"
	CommandVoidPayment        CommandType = "VoidPayment"
	CommandPrintFiscalReceipt CommandType = "PrintFiscalReceipt"
	CommandGetDeviceStatus    CommandType = "GetDeviceStatus"
	CommandGetCapabilities    CommandType = "GetCapabilities"
)

// CommandStatus tracks an envelope through its lifecycle.
// Transitions are monotonic: Pending -> Sent -> terminal, with Sent also
// reachable from Queued when the agent re-delivers after a restart.
type CommandStatus string

const (
	StatusPending   CommandStatus = "Pending"
	StatusQueued    CommandStatus = "Queued"
	StatusSent      CommandStatus = "Sent"
	StatusCompleted CommandStatus = "Completed"
	StatusFailed    CommandStatus = "Failed"
	StatusTimeout   CommandStatus = "Timeout"
	StatusCancelled CommandStatus = "Cancelled"
)

// IsTerminal reports whether the status is final. Terminal statuses admit no
// further transition.
func (s CommandStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// ErrInvalidTransition is returned when a status change would violate the
// envelope state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// validTransitions maps each status to the statuses reachable from it.
var validTransitions = map[CommandStatus][]CommandStatus{
	StatusPending: {StatusSent, StatusQueued, StatusCancelled},
	StatusQueued:  {StatusSent, StatusCancelled},
	StatusSent:    {StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled},
}

// CanTransition reports whether moving from s to next is a legal step.
func (s CommandStatus) CanTransition(next CommandStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CommandEnvelope is the generic wrapper carrying a typed operation request
// across the channel. The payload is pre-serialized so the envelope itself
// stays schema-stable regardless of operation.
type CommandEnvelope struct {
	ID             string        `json:"id"`
	TenantID       string        `json:"tenantId"`
	AgentID        string        `json:"agentId,omitempty"`
	CommandType    CommandType   `json:"commandType"`
	DeviceType     DeviceType    `json:"deviceType"`
	Payload        string        `json:"payload"`
	Status         CommandStatus `json:"status"`
	TimeoutSeconds int           `json:"timeoutSeconds"`
	QueuedAt       time.Time     `json:"queuedAt"`
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
	RetryCount     int           `json:"retryCount"`
	MaxRetries     int           `json:"maxRetries"`
	Response       string        `json:"response,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// NewEnvelope builds a Pending envelope with a fresh correlation id for the
// given operation. The payload must already be serialized.
func NewEnvelope(tenantID string, commandType CommandType, deviceType DeviceType, payload string, timeout time.Duration) *CommandEnvelope {
	return &CommandEnvelope{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		CommandType:    commandType,
		DeviceType:     deviceType,
		Payload:        payload,
		Status:         StatusPending,
		TimeoutSeconds: int(timeout.Seconds()),
		QueuedAt:       time.Now().UTC(),
		MaxRetries:     3,
	}
}

// Timeout returns the per-command deadline as a duration.
func (e *CommandEnvelope) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// ExpiresAt is the moment after which the command is considered unanswerable.
func (e *CommandEnvelope) ExpiresAt() time.Time {
	return e.QueuedAt.Add(e.Timeout())
}

// Transition moves the envelope to the next status, enforcing the state
// machine. Timestamps are stamped as a side effect of entering Sent and
// terminal states.
func (e *CommandEnvelope) Transition(next CommandStatus) error {
	if !e.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}
	now := time.Now().UTC()
	switch next {
	case StatusSent:
		e.StartedAt = &now
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		e.CompletedAt = &now
	}
	e.Status = next
	return nil
}

// Marshal encodes the envelope for the wire.
func (e *CommandEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes an envelope received from the channel.
func UnmarshalEnvelope(data []byte) (*CommandEnvelope, error) {
	var e CommandEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if e.ID == "" {
		return nil, errors.New("envelope missing correlation id")
	}
	return &e, nil
}

// CommandResponse is the point-to-point reply published by an agent, matched
// against the pending table by CommandID.
type CommandResponse struct {
	CommandID string `json:"commandId"`
	Response  string `json:"response,omitempty"`
	IsSuccess bool   `json:"isSuccess"`
	Error     string `json:"error,omitempty"`
}

// Marshal encodes the response for the wire.
func (r *CommandResponse) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalResponse decodes a reply received from the channel.
func UnmarshalResponse(data []byte) (*CommandResponse, error) {
	var r CommandResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if r.CommandID == "" {
		return nil, errors.New("response missing command id")
	}
	return &r, nil
}
