package gateway

import "context"

// ChargeRequest is a single charge attempt against the gateway
type ChargeRequest struct {
	// Reference is the caller's identifier for this charge, echoed back in
	// gateway metadata (the payment transaction ID)
	Reference string
	BookingID int64
	UserID    string
	Amount    float64
	Currency  string
	Metadata  map[string]string
}

// ChargeResponse is the gateway's decision on a charge
type ChargeResponse struct {
	// Success reports whether the charge was captured
	Success bool
	// GatewayReference is the gateway-side transaction identifier, set on
	// success
	GatewayReference string
	// FailureReason is a human-readable decline reason, set on failure
	FailureReason string
}

// PaymentGateway charges customers. A charge either returns a decision
// (captured or declined) or an error when no decision was reached; errors
// are retryable, declines are not.
type PaymentGateway interface {
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error)
	Name() string
}
