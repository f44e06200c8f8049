// ABOUTME: Typed dispatcher operations for payment terminals and fiscal printers
// ABOUTME: Each call returns a typed result; failures are encoded, never thrown

package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rentware/device-gateway/internal/protocol"
)

// AuthorizePayment asks the tenant's terminal to authorize a payment.
func (d *Dispatcher) AuthorizePayment(ctx context.Context, req *protocol.PaymentRequest, timeout time.Duration) (*protocol.PaymentResult, error) {
	return d.paymentCall(ctx, protocol.CommandAuthorizePayment, req, timeout)
}

// CapturePayment captures a previously authorized payment.
func (d *Dispatcher) CapturePayment(ctx context.Context, req *protocol.PaymentRequest, timeout time.Duration) (*protocol.PaymentResult, error) {
	return d.paymentCall(ctx, protocol.CommandCapturePayment, req, timeout)
}

// RefundPayment refunds a captured payment.
func (d *Dispatcher) RefundPayment(ctx context.Context, req *protocol.PaymentRequest, timeout time.Duration) (*protocol.PaymentResult, error) {
	return d.paymentCall(ctx, protocol.CommandRefundPayment, req, timeout)
}

// VoidPayment voids an authorization that has not been captured.
func (d *Dispatcher) VoidPayment(ctx context.Context, req *protocol.PaymentRequest, timeout time.Duration) (*protocol.PaymentResult, error) {
	return d.paymentCall(ctx, protocol.CommandVoidPayment, req, timeout)
}

func (d *Dispatcher) paymentCall(ctx context.Context, commandType protocol.CommandType, req *protocol.PaymentRequest, timeout time.Duration) (*protocol.PaymentResult, error) {
	out, err := d.execute(ctx, commandType, protocol.DeviceTerminal, req, timeout)
	if err != nil {
		return nil, err
	}
	if !out.ok {
		return &protocol.PaymentResult{Success: false, ErrorMessage: out.message}, nil
	}
	var res protocol.PaymentResult
	if err := json.Unmarshal(out.raw, &res); err != nil {
		d.logger.Warn("undeserializable payment response", "command_type", commandType, "error", err)
		return &protocol.PaymentResult{Success: false, ErrorMessage: protocolErrorMessage(protocol.DeviceTerminal)}, nil
	}
	return &res, nil
}

// PrintFiscalReceipt sends a receipt to the tenant's fiscal printer.
func (d *Dispatcher) PrintFiscalReceipt(ctx context.Context, req *protocol.ReceiptRequest, timeout time.Duration) (*protocol.ReceiptResult, error) {
	out, err := d.execute(ctx, protocol.CommandPrintFiscalReceipt, protocol.DeviceFiscalPrinter, req, timeout)
	if err != nil {
		return nil, err
	}
	if !out.ok {
		return &protocol.ReceiptResult{Success: false, ErrorMessage: out.message}, nil
	}
	var res protocol.ReceiptResult
	if err := json.Unmarshal(out.raw, &res); err != nil {
		d.logger.Warn("undeserializable receipt response", "error", err)
		return &protocol.ReceiptResult{Success: false, ErrorMessage: protocolErrorMessage(protocol.DeviceFiscalPrinter)}, nil
	}
	return &res, nil
}

// GetDeviceStatus queries the current condition of a device.
func (d *Dispatcher) GetDeviceStatus(ctx context.Context, deviceType protocol.DeviceType, timeout time.Duration) (*protocol.DeviceStatusResult, error) {
	out, err := d.execute(ctx, protocol.CommandGetDeviceStatus, deviceType, &protocol.StatusRequest{}, timeout)
	if err != nil {
		return nil, err
	}
	if !out.ok {
		return &protocol.DeviceStatusResult{Success: false, Online: false, ErrorMessage: out.message}, nil
	}
	var res protocol.DeviceStatusResult
	if err := json.Unmarshal(out.raw, &res); err != nil {
		d.logger.Warn("undeserializable status response", "error", err)
		return &protocol.DeviceStatusResult{Success: false, ErrorMessage: protocolErrorMessage(deviceType)}, nil
	}
	return &res, nil
}

// GetCapabilities queries what the attached device can do.
func (d *Dispatcher) GetCapabilities(ctx context.Context, deviceType protocol.DeviceType, timeout time.Duration) (*protocol.CapabilitiesResult, error) {
	out, err := d.execute(ctx, protocol.CommandGetCapabilities, deviceType, &protocol.StatusRequest{}, timeout)
	if err != nil {
		return nil, err
	}
	if !out.ok {
		return &protocol.CapabilitiesResult{Success: false, ErrorMessage: out.message}, nil
	}
	var res protocol.CapabilitiesResult
	if err := json.Unmarshal(out.raw, &res); err != nil {
		d.logger.Warn("undeserializable capabilities response", "error", err)
		return &protocol.CapabilitiesResult{Success: false, ErrorMessage: protocolErrorMessage(deviceType)}, nil
	}
	return &res, nil
}
