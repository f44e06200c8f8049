// ABOUTME: Device provider contract and registry for vendor-specific execution
// ABOUTME: Includes a simulated provider for development and tests

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rentware/device-gateway/internal/protocol"
)

// Provider executes a command against physical hardware. Implementations are
// vendor-specific and out of scope here; they receive the serialized payload
// and return a serialized result. A returned error means the device could
// not be driven at all and the command may be retried.
type Provider interface {
	Execute(ctx context.Context, commandType protocol.CommandType, payload string) (string, error)
}

// ProviderRegistry maps device types to their providers.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[protocol.DeviceType]Provider
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[protocol.DeviceType]Provider),
	}
}

// Register binds a provider to a device type, replacing any previous one.
func (r *ProviderRegistry) Register(deviceType protocol.DeviceType, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[deviceType] = p
}

// Get returns the provider for a device type.
func (r *ProviderRegistry) Get(deviceType protocol.DeviceType) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[deviceType]
	return p, ok
}

// SimulatedProvider answers every command with a plausible success. Used by
// the development agent and tests; real deployments register vendor drivers.
type SimulatedProvider struct{}

// Execute returns a canned result for the command type.
func (SimulatedProvider) Execute(_ context.Context, commandType protocol.CommandType, _ string) (string, error) {
	var result any
	switch commandType {
	case protocol.CommandAuthorizePayment, protocol.CommandCapturePayment,
		protocol.CommandRefundPayment, protocol.CommandVoidPayment:
		result = &protocol.PaymentResult{
			Success:       true,
			TransactionID: uuid.New().String(),
			AuthCode:      "SIM000",
		}
	case protocol.CommandPrintFiscalReceipt:
		result = &protocol.ReceiptResult{
			Success:      true,
			FiscalNumber: uuid.New().String(),
		}
	case protocol.CommandGetDeviceStatus:
		result = &protocol.DeviceStatusResult{
			Success: true,
			Online:  true,
			State:   "idle",
		}
	case protocol.CommandGetCapabilities:
		result = &protocol.CapabilitiesResult{
			Success:      true,
			Model:        "simulated",
			Capabilities: []string{"authorize", "capture", "refund", "void", "print"},
		}
	default:
		return "", fmt.Errorf("unsupported command type %q", commandType)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
