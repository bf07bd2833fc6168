// Package doctor runs interactive system diagnostics: trigger key,
// microphone, recognition endpoint, and keystroke output.
package doctor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"windvox/asr"
	"windvox/audio"
	"windvox/config"
	"windvox/hotkey"
	"windvox/protocol"
	"windvox/typer"
)

// Run executes the checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg config.Config) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("windvox doctor - interactive system diagnostics")
	fmt.Println("===============================================")

	allPass := true

	if !checkTrigger(cfg) {
		allPass = false
	}
	if allPass && !checkMicrophone(cfg) {
		allPass = false
	}
	if allPass && !checkEndpoint(cfg) {
		allPass = false
	}
	if allPass && !checkInjection() {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

// RunEndpoint performs only the endpoint handshake check.
func RunEndpoint(cfg config.Config) int {
	resetTerminal()
	if checkEndpoint(cfg) {
		return 0
	}
	return 1
}

func checkTrigger(cfg config.Config) bool {
	fmt.Println()
	fmt.Println("[1/4] Trigger key detection")
	fmt.Printf("Press %s...\n", cfg.Trigger.Key)

	hk, err := hotkey.New(cfg.Trigger.Key)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	if err := hk.Register(); err != nil {
		fmt.Printf("  FAIL: could not register trigger key: %v\n", err)
		if hint, derr := hotkey.Diagnose(); derr != nil {
			fmt.Printf("  Hint: %v\n", derr)
		} else {
			fmt.Printf("  Hint: %s\n", hint)
		}
		return false
	}
	defer hk.Unregister()

	select {
	case <-hk.Keydown():
		fmt.Println("  PASS: trigger key detected")
		// Wait for release so it does not leak into the next step
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for trigger key")
		return false
	}
}

func checkMicrophone(cfg config.Config) bool {
	fmt.Println()
	fmt.Println("[2/4] Microphone capture")

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return false
	}

	device := pickDevice(devices, cfg.Audio.DeviceName)
	if device != nil {
		fmt.Printf("Using device: %s\n", device.Name)
	} else {
		fmt.Println("Using device: system default")
	}

	fmt.Print("  Recording 3 seconds")
	data, err := recordFor(ctx, device, cfg, 3*time.Second)
	if err != nil {
		fmt.Printf("\n  FAIL: recording error: %v\n", err)
		return false
	}
	if len(data) == 0 {
		fmt.Println("\n  FAIL: no audio captured")
		return false
	}

	fmt.Printf(" done\n  PASS: captured %.1f KB\n", float64(len(data))/1024)
	return true
}

func pickDevice(devices []audio.DeviceInfo, name string) *audio.DeviceInfo {
	if name == "" {
		return nil
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i]
		}
	}
	return nil
}

func recordFor(ctx audio.Context, device *audio.DeviceInfo, cfg config.Config, d time.Duration) ([]byte, error) {
	var pcmBuf []byte
	var bufMu sync.Mutex

	captureDevice, err := ctx.NewCapture(device, audio.CaptureConfig{
		SampleRate: uint32(cfg.Audio.SampleRate),
		Channels:   uint32(cfg.Audio.Channels),
	})
	if err != nil {
		return nil, err
	}
	defer captureDevice.Close()

	captureDevice.SetCallback(func(data []byte, _ uint32) {
		bufMu.Lock()
		pcmBuf = append(pcmBuf, data...)
		bufMu.Unlock()
	})

	if err := captureDevice.Start(); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	time.Sleep(d)
	close(done)
	captureDevice.Stop()
	captureDevice.ClearCallback()

	bufMu.Lock()
	defer bufMu.Unlock()
	return pcmBuf, nil
}

// checkEndpoint dials the recognition service and performs the session
// handshake without streaming any audio.
func checkEndpoint(cfg config.Config) bool {
	fmt.Println()
	fmt.Println("[3/4] Recognition endpoint")
	fmt.Printf("Connecting to %s...\n", cfg.Endpoint.URL)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.ConnectTimeout)
	defer cancel()

	requestID := uuid.NewString()
	tr, err := asr.NewClient(cfg.Endpoint).Dial(ctx, requestID)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		if asr.IsAuth(err) {
			fmt.Println("  Hint: check endpoint.app_key / access_key / resource_id")
		}
		return false
	}
	defer tr.Close()

	init, err := protocol.EncodeInit(protocol.NewInitPayload(requestID, cfg.Audio.SampleRate, cfg.Audio.Channels))
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	if err := tr.Send(init); err != nil {
		fmt.Printf("  FAIL: handshake send: %v\n", err)
		return false
	}

	type recvResult struct {
		data []byte
		err  error
	}
	ch := make(chan recvResult, 1)
	go func() {
		data, err := tr.Recv()
		ch <- recvResult{data, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			fmt.Printf("  FAIL: handshake read: %v\n", r.err)
			return false
		}
		frame, err := protocol.Parse(r.data)
		if err != nil {
			fmt.Printf("  FAIL: malformed handshake response: %v\n", err)
			return false
		}
		if frame.Type == protocol.TypeServerErrorResponse {
			fmt.Printf("  FAIL: server rejected handshake (code %d)\n", frame.Code)
			return false
		}
		fmt.Println("  PASS: handshake accepted")
		return true
	case <-time.After(cfg.Session.ConnectTimeout):
		fmt.Println("  FAIL: timeout waiting for handshake response")
		return false
	}
}

func checkInjection() bool {
	fmt.Println()
	fmt.Println("[4/4] Keystroke output")

	msg, err := typer.Verify()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		fmt.Println("  Fix with: sudo chmod 660 /dev/uinput && sudo chgrp input /dev/uinput")
		return false
	}

	fmt.Printf("  PASS: %s\n", msg)
	return true
}
