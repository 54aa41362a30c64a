// Package notify is the fire-and-forget user notification sink.
package notify

import (
	appLog "prayerd/internal/log"
)

// Notifier delivers a short user-visible alert. Implementations must
// not block and must never fail the caller.
type Notifier interface {
	Notify(title, message string)
}

// Log writes notifications to the daemon log. It is the default sink;
// desktop integrations can replace it.
type Log struct{}

func (Log) Notify(title, message string) {
	appLog.Info("notification", "title", title, "message", message)
}

// Func adapts a plain function to the Notifier interface.
type Func func(title, message string)

func (f Func) Notify(title, message string) { f(title, message) }
