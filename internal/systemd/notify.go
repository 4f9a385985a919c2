// Package systemd reports service state to the systemd supervisor.
package systemd

import (
	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify state updates. Outside systemd every call is a
// no-op.
type Notifier struct {
	logger *slog.Logger
	send   func(state string) (bool, error)
}

// NewNotifier creates a notifier using NOTIFY_SOCKET from the environment.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger: logger,
		send: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

// Ready reports that the service finished starting.
func (n *Notifier) Ready() bool {
	return n.notify(daemon.SdNotifyReady)
}

// Stopping reports that shutdown began.
func (n *Notifier) Stopping() bool {
	return n.notify(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl.
func (n *Notifier) Status(status string) bool {
	return n.notify("STATUS=" + status)
}

func (n *Notifier) notify(state string) bool {
	sent, err := n.send(state)
	if err != nil {
		n.logger.Warn("Failed to notify systemd", "state", state, "error", err)
		return false
	}
	if sent {
		n.logger.Debug("Notified systemd", "state", state)
	}
	return sent
}
