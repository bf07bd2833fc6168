//go:build linux

// Package screenlock watches the desktop session for screen lock and
// unlock, so dictation can be paused while the screen is locked.
package screenlock

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Both interfaces fire ActiveChanged with one bool argument that is
// true while the screen is locked. GNOME ships its own name next to
// the freedesktop one; listening to both covers the common desktops.
var screensaverInterfaces = []string{
	"org.freedesktop.ScreenSaver",
	"org.gnome.ScreenSaver",
}

// Monitor delivers lock state changes from the session bus.
type Monitor struct {
	conn *dbus.Conn
	stop chan struct{}
	once sync.Once
}

// Watch subscribes to screensaver state changes and calls onChange with
// true on lock and false on unlock. The callback runs on the monitor
// goroutine and may block briefly.
func Watch(onChange func(locked bool)) (*Monitor, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	for _, iface := range screensaverInterfaces {
		if err := conn.AddMatchSignal(
			dbus.WithMatchInterface(iface),
			dbus.WithMatchMember("ActiveChanged"),
		); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribing to %s: %w", iface, err)
		}
	}

	m := &Monitor{conn: conn, stop: make(chan struct{})}
	ch := make(chan *dbus.Signal, 8)
	conn.Signal(ch)
	go m.run(ch, onChange)
	return m, nil
}

func (m *Monitor) run(ch chan *dbus.Signal, onChange func(locked bool)) {
	for {
		select {
		case <-m.stop:
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			if locked, ok := lockState(sig); ok {
				onChange(locked)
			}
		}
	}
}

func (m *Monitor) Close() {
	m.once.Do(func() {
		close(m.stop)
		m.conn.Close()
	})
}

// lockState extracts the lock flag from an ActiveChanged signal.
// Unrelated signals on the shared channel report ok=false.
func lockState(sig *dbus.Signal) (locked, ok bool) {
	if sig == nil || len(sig.Body) == 0 {
		return false, false
	}
	known := false
	for _, iface := range screensaverInterfaces {
		if sig.Name == iface+".ActiveChanged" {
			known = true
			break
		}
	}
	if !known {
		return false, false
	}
	locked, ok = sig.Body[0].(bool)
	return locked, ok
}
