// File: internal/infra/adapters/payment/razorpay_gateway.go
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	razorpay "github.com/razorpay/razorpay-go"
	"github.com/rs/zerolog"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*RazorpayGateway)(nil)

// ReplayWindow is the maximum accepted clock skew between a webhook's
// timestamp header and the receiving host.
const ReplayWindow = 300 * time.Second

const (
	defaultAttempts  = 3
	defaultBaseDelay = 500 * time.Millisecond
)

// linkAPI is the slice of the Razorpay payment-link resource the gateway
// uses; the indirection keeps retry behavior testable without the network.
type linkAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(paymentLinkID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	All(queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayGateway implements adapter.PaymentGateway on top of the Razorpay
// payment-links API.
type RazorpayGateway struct {
	links         linkAPI
	webhookSecret string
	callbackURL   string
	attempts      int
	baseDelay     time.Duration
	log           *zerolog.Logger
}

func NewRazorpayGateway(keyID, keySecret, webhookSecret, callbackURL string, logger *zerolog.Logger) (*RazorpayGateway, error) {
	if keyID == "" || keySecret == "" {
		return nil, errors.New("razorpay key id/secret empty")
	}
	if webhookSecret == "" {
		return nil, errors.New("webhook secret empty")
	}
	client := razorpay.NewClient(keyID, keySecret)
	l := logger.With().Str("component", "RazorpayGateway").Logger()
	return &RazorpayGateway{
		links:         client.PaymentLink,
		webhookSecret: webhookSecret,
		callbackURL:   callbackURL,
		attempts:      defaultAttempts,
		baseDelay:     defaultBaseDelay,
		log:           &l,
	}, nil
}

// SetRetryPolicy overrides the creation retry count and backoff base.
func (g *RazorpayGateway) SetRetryPolicy(attempts int, baseDelay time.Duration) {
	if attempts > 0 {
		g.attempts = attempts
	}
	if baseDelay > 0 {
		g.baseDelay = baseDelay
	}
}

func (g *RazorpayGateway) Name() string { return "razorpay" }

// CreateLink mints a payment link. The idempotent reference id is generated
// once; every retry re-sends the same payload, so a duplicate-creation
// answer from the provider means an earlier attempt actually landed and is
// resolved by looking the link up instead of failing.
func (g *RazorpayGateway) CreateLink(ctx context.Context, req adapter.LinkRequest) (*adapter.CreatedLink, error) {
	refID := ulid.Make().String()
	payload := map[string]interface{}{
		"amount":       paise(req.Amount),
		"currency":     "INR",
		"reference_id": refID,
		"description":  req.PlanName,
		"customer": map[string]interface{}{
			"contact": req.Phone,
		},
		"notes": map[string]interface{}{
			"customer_id": req.CustomerID,
			"plan_id":     req.PlanID,
		},
	}
	if g.callbackURL != "" {
		payload["callback_url"] = g.callbackURL
		payload["callback_method"] = "get"
	}

	var lastErr error
	for attempt := 0; attempt < g.attempts; attempt++ {
		if attempt > 0 {
			delay := g.baseDelay * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := g.links.Create(payload, nil)
		if err == nil {
			return parseCreated(out)
		}
		lastErr = err

		if isDuplicate(err) {
			// The provider already holds this link from a prior attempt.
			if existing, ferr := g.findByReference(refID); ferr == nil {
				return existing, nil
			}
			g.log.Warn().Err(err).Str("reference_id", refID).Msg("duplicate link reported but lookup failed")
		}
		if isValidation(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		g.log.Warn().Err(err).Int("attempt", attempt+1).Msg("payment link creation failed")
	}
	return nil, fmt.Errorf("%w: link creation failed after %d attempts: %v", domain.ErrGatewayUnavailable, g.attempts, lastErr)
}

// CheckStatus surfaces the provider's status string and errors unchanged.
func (g *RazorpayGateway) CheckStatus(ctx context.Context, linkID string) (string, error) {
	out, err := g.links.Fetch(linkID, nil, nil)
	if err != nil {
		return "", err
	}
	status, _ := out["status"].(string)
	return status, nil
}

// VerifySignature delegates to VerifyWebhookSignature with the configured
// shared secret.
func (g *RazorpayGateway) VerifySignature(rawPayload []byte, signature, timestamp string) bool {
	return VerifyWebhookSignature(rawPayload, signature, timestamp, g.webhookSecret)
}

// VerifyWebhookSignature authenticates a webhook delivery: HMAC-SHA256 over
// "{timestamp}.{rawPayload}" keyed by the shared secret, constant-time
// compared, with timestamps outside ReplayWindow rejected. Anything going
// wrong during verification counts as rejection.
func VerifyWebhookSignature(rawPayload []byte, signature, timestamp, secret string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if len(rawPayload) == 0 || signature == "" || timestamp == "" || secret == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := time.Since(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > ReplayWindow {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawPayload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

func (g *RazorpayGateway) findByReference(refID string) (*adapter.CreatedLink, error) {
	out, err := g.links.All(map[string]interface{}{"reference_id": refID}, nil)
	if err != nil {
		return nil, err
	}
	items, _ := out["payment_links"].([]interface{})
	if len(items) == 0 {
		if legacy, ok := out["items"].([]interface{}); ok {
			items = legacy
		}
	}
	if len(items) == 0 {
		return nil, domain.ErrNotFound
	}
	first, _ := items[0].(map[string]interface{})
	return parseCreated(first)
}

func parseCreated(out map[string]interface{}) (*adapter.CreatedLink, error) {
	id, _ := out["id"].(string)
	url, _ := out["short_url"].(string)
	if id == "" {
		return nil, fmt.Errorf("%w: provider response missing link id", domain.ErrGatewayUnavailable)
	}
	return &adapter.CreatedLink{LinkID: id, LinkURL: url}, nil
}

func isDuplicate(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func isValidation(err error) bool {
	return strings.Contains(err.Error(), "BAD_REQUEST_ERROR")
}

// paise converts decimal INR to the provider's integer minor units.
func paise(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
