// ABOUTME: Typed request and result payloads for each dispatcher operation
// ABOUTME: Serialized into the envelope payload field as JSON

package protocol

// PaymentRequest is the payload for AuthorizePayment, CapturePayment,
// RefundPayment and VoidPayment. Amounts are in minor units of the currency
// to keep the wire format free of floating point.
type PaymentRequest struct {
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference,omitempty"`
	// TransactionID refers to a prior authorization for capture/refund/void.
	TransactionID string `json:"transactionId,omitempty"`
}

// PaymentResult is the device's answer to a payment operation.
type PaymentResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	AuthCode      string `json:"authCode,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// ReceiptLine is one printable line of a fiscal receipt.
type ReceiptLine struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitMinor  int64  `json:"unitMinor"`
	VATRate    string `json:"vatRate"`
	TotalMinor int64  `json:"totalMinor"`
}

// ReceiptRequest is the payload for PrintFiscalReceipt.
type ReceiptRequest struct {
	ReceiptNumber string        `json:"receiptNumber"`
	Lines         []ReceiptLine `json:"lines"`
	TotalMinor    int64         `json:"totalMinor"`
	Currency      string        `json:"currency"`
	PaymentMethod string        `json:"paymentMethod,omitempty"`
}

// ReceiptResult is the printer's answer to PrintFiscalReceipt.
type ReceiptResult struct {
	Success      bool   `json:"success"`
	FiscalNumber string `json:"fiscalNumber,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// StatusRequest is the payload for GetDeviceStatus and GetCapabilities.
type StatusRequest struct {
	DeviceID string `json:"deviceId,omitempty"`
}

// DeviceStatusResult reports the current condition of a device.
type DeviceStatusResult struct {
	Success      bool   `json:"success"`
	Online       bool   `json:"online"`
	State        string `json:"state,omitempty"`
	PaperLow     bool   `json:"paperLow,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// CapabilitiesResult lists what the attached device can do.
type CapabilitiesResult struct {
	Success      bool     `json:"success"`
	Model        string   `json:"model,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}
