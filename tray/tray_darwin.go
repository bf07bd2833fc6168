//go:build darwin

package tray

import (
	"github.com/energye/systray"
	"golang.design/x/hotkey/mainthread"

	"windvox/service"
)

var (
	mRecord *systray.MenuItem
	mDevice *systray.MenuItem
)

// Init starts the status item on the main thread and returns the quit
// channel. Must be called from the process main goroutine.
func Init() <-chan struct{} {
	start, _ := systray.RunWithExternalLoop(onReady, onExit)
	done := make(chan struct{})
	mainthread.Call(func() {
		start()
		close(done)
	})
	<-done
	return quitCh
}

func onReady() {
	systray.SetTemplateIcon(iconIdleHi, iconIdle)
	systray.SetTooltip("windvox – hold the trigger key to dictate")

	mRecord = systray.AddMenuItem("Start Dictation", "Start or stop dictation")
	mRecord.Click(func() {
		stateMu.Lock()
		recording := state == service.StatusRecording
		stateMu.Unlock()
		if recording {
			if stopFn != nil {
				stopFn()
			}
		} else if startFn != nil {
			startFn()
		}
	})

	systray.AddSeparator()
	deviceMu.Lock()
	line := deviceLine
	deviceMu.Unlock()
	if line == "" {
		line = "system default"
	}
	mDevice = systray.AddMenuItem("Mic: "+line, "Capture device")
	mDevice.Disable()

	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Quit windvox")
	mQuit.Click(func() {
		Quit()
	})
}

func onExit() {}

func updateStatusIcon(s service.Status) {
	switch s {
	case service.StatusRecording:
		systray.SetIcon(iconRecHi)
		if mRecord != nil {
			mRecord.SetTitle("Stop Dictation")
		}
	case service.StatusProcessing:
		systray.SetIcon(iconBusyHi)
	case service.StatusError:
		systray.SetIcon(iconErrorHi)
		if mRecord != nil {
			mRecord.SetTitle("Start Dictation")
		}
	default:
		systray.SetTemplateIcon(iconIdleHi, iconIdle)
		if mRecord != nil {
			mRecord.SetTitle("Start Dictation")
		}
	}
}

func updateDeviceTitle(name string) {
	if mDevice != nil {
		mDevice.SetTitle("Mic: " + name)
	}
}

func updateTooltip(msg string) {
	systray.SetTooltip(msg)
}
