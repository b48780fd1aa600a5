package adapter

import "context"

// LinkRequest carries what the provider needs to mint a payment link.
type LinkRequest struct {
	CustomerID string
	Phone      string
	Amount     float64 // decimal INR
	PlanID     string
	PlanName   string
}

// CreatedLink is the provider's answer: its link id and the checkout URL.
type CreatedLink struct {
	LinkID  string
	LinkURL string
}

// PaymentGateway is the hex port for payment-link providers.
type PaymentGateway interface {
	Name() string

	// CreateLink asks the provider for a payment link. Implementations
	// retry transient failures with exponential backoff and keep the same
	// idempotent reference across attempts; a duplicate-creation response
	// is a success, not an error.
	CreateLink(ctx context.Context, req LinkRequest) (*CreatedLink, error)

	// CheckStatus is a read-only passthrough of the provider status string.
	CheckStatus(ctx context.Context, linkID string) (string, error)

	// VerifySignature authenticates a webhook delivery. Any failure during
	// verification counts as rejection, never acceptance.
	VerifySignature(rawPayload []byte, signature, timestamp string) bool
}
