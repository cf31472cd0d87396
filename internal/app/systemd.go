package app

import "github.com/coreos/go-systemd/v22/daemon"

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
)

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
func sdNotify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}
