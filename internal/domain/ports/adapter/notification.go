package adapter

import "context"

// TargetAllTenants addresses an event to every connected tenant.
const TargetAllTenants = "all"

// Event is a notification emitted by the payment core. Delivery is
// fire-and-forget: sinks swallow and log their own failures.
type Event struct {
	Type           string
	Title          string
	Message        string
	TargetTenantID string // tenant id or TargetAllTenants
	Payload        map[string]any
}

// NotificationSink receives events. Publish must never block the caller for
// long and must never surface delivery errors.
type NotificationSink interface {
	Publish(ctx context.Context, ev Event)
}
