package app

import (
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "taskman/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd. Outside systemd every call
// is a no-op.
type sdNotifier struct {
	enabled  bool
	watchdog time.Duration
	log      logx.Logger
	lastPing atomic.Int64
}

func newSDNotifier(enabled bool, log logx.Logger) *sdNotifier {
	n := &sdNotifier{enabled: enabled, log: log}
	if !enabled {
		return n
	}
	wd, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog check failed", logx.Err(err))
	}
	n.watchdog = wd
	if wd > 0 {
		log.Info("systemd watchdog enabled", logx.Duration("interval", wd))
	}
	return n
}

func (n *sdNotifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("systemd notified", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Ping feeds the watchdog, at most twice per watchdog interval. The driver
// calls it after every tick.
func (n *sdNotifier) Ping() {
	if n == nil || n.watchdog <= 0 {
		return
	}
	now := time.Now().UnixNano()
	last := n.lastPing.Load()
	if time.Duration(now-last) < n.watchdog/2 || !n.lastPing.CompareAndSwap(last, now) {
		return
	}
	n.send(daemon.SdNotifyWatchdog)
}
