package app

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "framesched/pkg/logx"
)

// sdNotifier reports lifecycle and liveness to systemd. Outside a systemd
// unit (no NOTIFY_SOCKET) every call is a no-op.
type sdNotifier struct {
	log      logx.Logger
	watchdog time.Duration // 0 when the unit has no WatchdogSec
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	n := &sdNotifier{log: log}
	iv, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog misconfigured", logx.Err(err))
	} else if iv > 0 {
		n.watchdog = iv
		log.Info("systemd watchdog enabled", logx.Duration("interval", iv))
	}
	return n
}

// PingInterval is half the watchdog timeout, or 0 when disabled.
func (n *sdNotifier) PingInterval() time.Duration { return n.watchdog / 2 }

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }
func (n *sdNotifier) Watchdog() { n.send(daemon.SdNotifyWatchdog) }

func (n *sdNotifier) send(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}
