// Package notify is the tenant notification boundary. Delivery is
// fire-and-forget from the engine's perspective: a failed notification is
// logged and dropped, never rolled back into the execution's terminal state.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
)

// Event carries the terminal status of one execution to the tenant layer.
type Event struct {
	TenantID    uint   `json:"tenant_id"`
	TaskID      uint   `json:"task_id"`
	ExecutionID uint   `json:"execution_id"`
	Status      string `json:"status"`
	ErrorClass  string `json:"error_class,omitempty"`
}

// Notifier delivers terminal execution statuses.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes notifications to the structured log. Default when no
// webhook is configured.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, ev Event) error {
	n.Log.Info().
		Uint("tenant_id", ev.TenantID).
		Uint("task_id", ev.TaskID).
		Uint("execution_id", ev.ExecutionID).
		Str("status", ev.Status).
		Str("error_class", ev.ErrorClass).
		Msg("execution finished")
	return nil
}

// WebhookNotifier POSTs each event as JSON to a fixed URL.
type WebhookNotifier struct {
	URL    string
	Client *client.Client
}

func NewWebhookNotifier(url string) (*WebhookNotifier, error) {
	c, err := client.NewClient(client.WithDialTimeout(5 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("creating webhook client: %w", err)
	}
	return &WebhookNotifier{URL: url, Client: c}, nil
}

func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling notification: %w", err)
	}
	req, res := protocol.AcquireRequest(), protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(res)

	req.SetMethod(consts.MethodPost)
	req.SetRequestURI(n.URL)
	req.SetBody(body)
	req.Header.SetContentTypeBytes([]byte("application/json"))

	if err := n.Client.Do(ctx, req, res); err != nil {
		return fmt.Errorf("delivering notification: %w", err)
	}
	if res.StatusCode() >= 300 {
		return fmt.Errorf("notification webhook returned status %d", res.StatusCode())
	}
	return nil
}
