package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Log writes notifications to a logger. It is always available and is the
// default sink when nothing else is configured.
type Log struct {
	log logrus.FieldLogger
}

func NewLog(log logrus.FieldLogger) *Log {
	return &Log{log: log}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Send(_ context.Context, n *Notification) error {
	entry := l.log.WithFields(logrus.Fields{
		"kind":  n.Kind,
		"title": n.Title,
	})
	if n.MarketID != "" {
		entry = entry.WithField("market_id", n.MarketID)
	}
	if n.PositionID != "" {
		entry = entry.WithField("position_id", n.PositionID)
	}
	switch n.Kind {
	case KindHalted, KindCycleFailed:
		entry.Error(n.Message)
	case KindCooldown, KindExecutionFailed:
		entry.Warn(n.Message)
	default:
		entry.Info(n.Message)
	}
	return nil
}
