// Package notify pushes webhook and ntfy notifications when a loop reaches
// a terminal event, so nobody has to keep a dashboard open.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loopdeck/loopdeck/internal/config"
	"github.com/loopdeck/loopdeck/internal/eventlog"
	"github.com/loopdeck/loopdeck/internal/hub"
)

// Topics that warrant a push.
const (
	TopicCompleted = "loop.completed"
	TopicFailed    = "loop.failed"
)

// Notifier fans session-terminal events out to the configured channels.
type Notifier struct {
	cfg    config.NotificationsConfig
	logger *slog.Logger
	client *http.Client
}

func New(cfg config.NotificationsConfig, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Watch consumes a hub subscription until the context ends or the hub
// closes, pushing a notification for each terminal event. Lag is tolerated:
// dropped intermediate events cannot hide a terminal one that is still
// queued.
func (n *Notifier) Watch(ctx context.Context, sessionID, taskName string, sub *hub.Subscription) {
	defer sub.Close()
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			var lag *hub.LagError
			if errors.As(err, &lag) {
				n.logger.Debug("notification stream lagged", "session", sessionID, "dropped", lag.Dropped)
				continue
			}
			return
		}
		if ev.Topic == TopicCompleted || ev.Topic == TopicFailed {
			n.Notify(sessionID, taskName, ev)
		}
	}
}

// Notify pushes one event to every enabled channel.
func (n *Notifier) Notify(sessionID, taskName string, ev eventlog.Event) {
	if !n.cfg.Enabled {
		return
	}
	if n.cfg.Webhook != "" {
		n.sendWebhook(sessionID, taskName, ev)
	}
	if n.cfg.NtfyURL != "" {
		n.sendNtfy(sessionID, taskName, ev)
	}
}

type webhookPayload struct {
	Session   string `json:"session"`
	Task      string `json:"task"`
	Topic     string `json:"topic"`
	Iteration int    `json:"iteration"`
	Timestamp string `json:"timestamp"`
}

func (n *Notifier) sendWebhook(sessionID, taskName string, ev eventlog.Event) {
	payload := webhookPayload{
		Session:   sessionID,
		Task:      taskName,
		Topic:     ev.Topic,
		Iteration: ev.Iteration,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	resp, err := n.client.Post(n.cfg.Webhook, "application/json", bytes.NewReader(data))
	if err != nil {
		n.logger.Warn("webhook notification failed", "session", sessionID, "err", err)
		return
	}
	resp.Body.Close()
}

type ntfyPayload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

func (n *Notifier) sendNtfy(sessionID, taskName string, ev eventlog.Event) {
	title := fmt.Sprintf("loop %s", ev.Topic)
	if taskName != "" {
		title = fmt.Sprintf("%s %s", taskName, verbFor(ev.Topic))
	}
	payload := ntfyPayload{
		Title:    title,
		Message:  fmt.Sprintf("session %s · iteration %d", sessionID, ev.Iteration),
		Priority: priorityFor(ev.Topic),
		Tags:     tagsFor(ev.Topic),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	resp, err := n.client.Post(n.cfg.NtfyURL, "application/json", bytes.NewReader(data))
	if err != nil {
		n.logger.Warn("ntfy notification failed", "session", sessionID, "err", err)
		return
	}
	resp.Body.Close()
}

func verbFor(topic string) string {
	if topic == TopicFailed {
		return "failed"
	}
	return "completed"
}

func priorityFor(topic string) int {
	if topic == TopicFailed {
		return 5
	}
	return 4
}

func tagsFor(topic string) []string {
	if topic == TopicFailed {
		return []string{"rotating_light"}
	}
	return []string{"white_check_mark"}
}
