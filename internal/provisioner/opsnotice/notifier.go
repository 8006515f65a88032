// Package opsnotice posts a Slack message when the Resource Provisioner
// runs a compensating clear_queue_rsc action, so an operator learns broker
// state was rolled back. Purely ambient operability — it never gates the
// compensating delete itself (spec.md §4.4 expansion).
package opsnotice

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/linkbroker/linkbroker/internal/provisioner"
)

// Notifier posts to a configured Slack channel, grounded on the teacher's
// pkg/slack.Notifier "disabled if token absent" idiom.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// New builds a Notifier. If botToken is empty the notifier is a silent
// noop, matching pkg/slack.Notifier.IsEnabled.
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NotifyCompensation implements provisioner.Notifier.
func (n *Notifier) NotifyCompensation(ctx context.Context, driver string, handle provisioner.Handle, cause error) {
	if !n.IsEnabled() {
		n.logger.Debug("ops notice disabled, skipping compensation notice", "driver", driver, "queue", handle.QueueName)
		return
	}

	text := fmt.Sprintf(":warning: provisioner rolled back %s resource %q", driver, handle.QueueName)
	if cause != nil {
		text += fmt.Sprintf(" (cause: %s)", cause.Error())
	}

	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting compensation notice to slack", "error", err)
	}
}
