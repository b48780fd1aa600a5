// File: internal/infra/adapters/entitlement/provisioner.go
package entitlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"subscription-billing/internal/domain/ports/adapter"
)

var (
	_ adapter.EntitlementProvisioner = (*HTTPProvisioner)(nil)
	_ adapter.EntitlementProvisioner = (*NoopProvisioner)(nil)
)

// HTTPProvisioner calls the entitlement service that actually grants
// channel access. The lifecycle treats failures as best-effort, so this
// client only reports them.
type HTTPProvisioner struct {
	url    string
	client *http.Client
	log    *zerolog.Logger
}

func NewHTTPProvisioner(url string, logger *zerolog.Logger) *HTTPProvisioner {
	l := logger.With().Str("component", "EntitlementProvisioner").Logger()
	return &HTTPProvisioner{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    &l,
	}
}

func (p *HTTPProvisioner) ProvisionAccess(ctx context.Context, userID string, duration time.Duration) error {
	body, _ := json.Marshal(map[string]any{
		"user_id":          userID,
		"duration_seconds": int64(duration.Seconds()),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("entitlement service http %d", resp.StatusCode)
	}
	return nil
}

// NoopProvisioner is used in dev mode and tests.
type NoopProvisioner struct{}

func (NoopProvisioner) ProvisionAccess(ctx context.Context, userID string, duration time.Duration) error {
	return nil
}
