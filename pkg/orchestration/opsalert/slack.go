// Package opsalert posts operator-facing notices to Slack. The
// Orchestrator sends one when a forced shutdown killed an in-flight
// browser. BotDetectedSpike formats a BotDetected-rate notice, but
// nothing in this module measures that rate or calls it, and there is
// no threshold setting. This is ambient operability,
// not a scrape-coordination feature — spec.md's Non-goals exclude
// operator dashboards, not all operator signaling.
package opsalert

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

// Sink posts a message to one configured channel. A nil *Sink is a
// valid no-op, so callers can leave ops alerting unconfigured.
type Sink struct {
	client  *slack.Client
	channel string
	logger  *logrus.Logger
}

// New builds a Sink. An empty token disables alerting: Notify becomes
// a no-op rather than failing every call site that doesn't check.
func New(token, channel string, logger *logrus.Logger) *Sink {
	if token == "" {
		return nil
	}
	return &Sink{client: slack.New(token), channel: channel, logger: logger}
}

// Notify posts text to the configured channel, logging (not
// returning) any delivery failure — an ops alert that can't be sent
// must never fail the operation it's reporting on.
func (s *Sink) Notify(ctx context.Context, text string) {
	if s == nil {
		return
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		s.logger.WithError(err).Warn("ops alert delivery failed")
	}
}

// ForcedShutdown reports that Stop's deadline elapsed and jobIDs were
// requeued with their browser sessions killed mid-job.
func (s *Sink) ForcedShutdown(ctx context.Context, jobIDs []string) {
	s.Notify(ctx, forcedShutdownText(jobIDs))
}

func forcedShutdownText(jobIDs []string) string {
	if len(jobIDs) == 0 {
		return "shutdown deadline exceeded; browser sessions force-killed"
	}
	msg := "shutdown deadline exceeded; requeued jobs with a killed browser session:"
	for _, id := range jobIDs {
		msg += " " + id
	}
	return msg
}

// BotDetectedSpike reports that the BotDetected rate over the
// observation window crossed threshold.
func (s *Sink) BotDetectedSpike(ctx context.Context, rate, threshold float64) {
	s.Notify(ctx, botDetectedSpikeText(rate, threshold))
}

func botDetectedSpikeText(rate, threshold float64) string {
	return fmt.Sprintf("bot-detected rate spike: %.1f%% over the last window (threshold %.1f%%)", rate*100, threshold*100)
}
