// Package notify fans engine state changes out to the presentation
// boundary: logs, a Kafka topic and the in-memory history.
package notify

import (
	"log/slog"

	"github.com/Subtalime/vintel-sub001/internal/model"
)

type Notifier interface {
	LocationStateChanged(change model.StateChange)
}

// Multi calls each notifier in order. Nil entries are skipped.
type Multi []Notifier

func (m Multi) LocationStateChanged(ch model.StateChange) {
	for _, n := range m {
		if n != nil {
			n.LocationStateChanged(ch)
		}
	}
}

// Func adapts a plain function.
type Func func(model.StateChange)

func (f Func) LocationStateChanged(ch model.StateChange) { f(ch) }

// Log writes each change as one structured line.
type Log struct {
	Logger *slog.Logger
}

func (l Log) LocationStateChanged(ch model.StateChange) {
	if l.Logger == nil {
		return
	}
	l.Logger.Info("location state changed",
		"location", ch.Location,
		"previous", ch.Previous,
		"status", ch.Status,
		"background", ch.Background,
		"text", ch.Text,
		"at", ch.At,
		"cause", ch.Cause,
	)
}
