//go:build !linux

package main

import (
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

// The hotkey and status item APIs require the process main thread, so
// run executes inside the mainthread dispatcher.
func main() {
	mainthread.Init(run)
}
