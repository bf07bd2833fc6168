// Package tray shows dictation state in the system status bar. Only
// macOS gets a real implementation; elsewhere the calls are no-ops and
// the TUI is the primary surface.
package tray

import (
	"sync"

	"windvox/service"
)

var (
	quitCh    = make(chan struct{})
	closeOnce sync.Once

	startFn func()
	stopFn  func()

	stateMu sync.Mutex
	state   service.Status

	deviceMu   sync.Mutex
	deviceLine string
)

// OnRecord registers the callbacks behind the start/stop menu item.
func OnRecord(start, stop func()) {
	startFn = start
	stopFn = stop
}

// SetStatus switches the icon and the record menu title.
func SetStatus(s service.Status) {
	stateMu.Lock()
	state = s
	stateMu.Unlock()
	updateStatusIcon(s)
}

// SetDevice updates the informational device line.
func SetDevice(name string) {
	deviceMu.Lock()
	deviceLine = name
	deviceMu.Unlock()
	updateDeviceTitle(name)
}

func SetTooltip(msg string) {
	updateTooltip(msg)
}

// Quit closes the channel returned by Init.
func Quit() {
	closeOnce.Do(func() { close(quitCh) })
}
