package exporter

import (
	"context"

	"github.com/honeyhiveai/honeyhive-go/internal/api"
	"github.com/honeyhiveai/honeyhive-go/pkg/models"
)

// EventSender delivers canonical events through the REST client. The
// client pre-classifies failures (permanent 4xx, Retry-After hints),
// so the engine's retry loop sees exactly the taxonomy it expects.
type EventSender struct {
	client *api.Client
}

var _ Sender[*models.Event] = (*EventSender)(nil)

// NewEventSender wraps an API client as an engine sender.
func NewEventSender(client *api.Client) *EventSender {
	return &EventSender{client: client}
}

// Send posts one batch to the events endpoint.
func (s *EventSender) Send(ctx context.Context, batch []*models.Event) error {
	return s.client.PostEvents(ctx, batch)
}

// Shutdown is a no-op; the REST client holds no connections worth
// closing beyond the transport's idle pool.
func (s *EventSender) Shutdown(context.Context) error {
	return nil
}
