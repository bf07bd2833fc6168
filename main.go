package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"windvox/asr"
	"windvox/audio"
	"windvox/config"
	"windvox/doctor"
	"windvox/hotkey"
	"windvox/log"
	"windvox/screenlock"
	"windvox/service"
	"windvox/shutdown"
	"windvox/tray"
	"windvox/typer"
)

var version = "dev"

var activeService *service.Service

var shutdownOnce sync.Once

func gracefulShutdown() {
	shutdownOnce.Do(func() {
		if activeService != nil {
			log.ServiceEnd(activeService.Sessions())
		}
		log.Close()
		tray.Quit()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
		os.Exit(0)
	})
}

// uiSink fans service updates out to the TUI and the tray. Calls arrive
// from service goroutines and must not block.
type uiSink struct{}

func (uiSink) StatusChanged(s service.Status) {
	tuiSend(StatusMsg{Status: s})
	tray.SetStatus(s)
}
func (uiSink) Partial(text string)    { tuiSend(PartialMsg{Text: text}) }
func (uiSink) Final(text string)      { tuiSend(FinalMsg{Text: text}) }
func (uiSink) AudioLevel(lvl float64) { tuiSend(AudioLevelMsg{Level: lvl}) }
func (uiSink) Notice(text string)     { tuiSend(NoticeMsg{Text: text}) }

func deviceLineText(dev *audio.DeviceInfo) string {
	if dev != nil {
		return "mic: " + dev.Name
	}
	return "mic: system default"
}

func modeLineText(cfg config.Config) string {
	return fmt.Sprintf("[%s | %s]", cfg.Trigger.Key, cfg.Trigger.Mode)
}

func run() {
	configFlag := flag.String("config", "", "Config file path (default: "+config.Path()+")")
	logPathFlag := flag.String("logpath", "", "Log directory path (default: OS-specific location, use ./ for current dir)")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI (false: run in background)")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses configured or default device)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	listFlag := flag.Bool("list-devices", false, "List capture devices and exit")
	validateFlag := flag.Bool("validate-config", false, "Validate config and exit")
	testConnFlag := flag.Bool("test-connection", false, "Dial the recognition endpoint and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("windvox %s\n", version)
		os.Exit(0)
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *listFlag {
		actx, err := audio.NewContext()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
			os.Exit(1)
		}
		devices, err := actx.Devices()
		actx.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing devices: %v\n", err)
			os.Exit(1)
		}
		for _, d := range devices {
			fmt.Println(d.Name)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Expected config at %s (or set WINDVOX_APP_KEY / WINDVOX_ACCESS_KEY)\n", config.Path())
		os.Exit(1)
	}

	if *validateFlag {
		fmt.Println("Config OK")
		os.Exit(0)
	}
	if *doctorFlag {
		os.Exit(doctor.Run(cfg))
	}
	if *testConnFlag {
		os.Exit(doctor.RunEndpoint(cfg))
	}

	// Resolve -setup into -device early (before daemonization)
	if *setupFlag && *deviceFlag == "" {
		actx, err := audio.NewContext()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
			os.Exit(1)
		}
		if dev, _ := audio.SelectDevice(actx); dev != nil {
			*deviceFlag = dev.Name
		}
		actx.Close()
	}

	// Daemonize in non-TUI mode: re-exec in background, return shell prompt
	if !*tuiFlag && os.Getenv("_WINDVOX_BG") == "" {
		args := os.Args[1:]
		if *deviceFlag != "" {
			args = append(args, "-device", *deviceFlag)
		}
		exe, _ := os.Executable()
		cmd := exec.Command(exe, args...)
		cmd.Env = append(os.Environ(), "_WINDVOX_BG=1")
		devnull, _ := os.Open(os.DevNull)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = devnull, devnull, devnull
		if err := cmd.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	} else {
		log.ServiceStart(cfg.Trigger.Key, cfg.Trigger.Mode)
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer actx.Close()

	deviceName := *deviceFlag
	if deviceName == "" {
		deviceName = cfg.Audio.DeviceName
	}
	var selectedDevice *audio.DeviceInfo
	if deviceName != "" {
		devices, err := actx.Devices()
		if err != nil {
			log.Warnf("device enumeration failed: %v", err)
		}
		for i := range devices {
			if devices[i].Name == deviceName {
				selectedDevice = &devices[i]
				break
			}
		}
		if selectedDevice == nil {
			log.Warnf("device not found, using default: %s", deviceName)
			fmt.Printf("Warning: device %q not found, using system default\n", deviceName)
		}
	}

	captureConfig := audio.CaptureConfig{
		SampleRate: uint32(cfg.Audio.SampleRate),
		Channels:   uint32(cfg.Audio.Channels),
	}

	client := asr.NewClient(cfg.Endpoint)
	sessCfg := asr.Config{
		SampleRate:     cfg.Audio.SampleRate,
		Channels:       cfg.Audio.Channels,
		ConnectTimeout: cfg.Session.ConnectTimeout,
		DrainTimeout:   cfg.Session.DrainTimeout,
	}
	inj := typer.New(time.Duration(cfg.Input.TypingDelayMs) * time.Millisecond)

	toggle := cfg.Trigger.Mode == config.ModeToggle
	svc := service.New(service.Options{
		Toggle:         toggle,
		MaxRetries:     cfg.Session.MaxRetries,
		BackoffBase:    cfg.Session.BackoffBase,
		BackoffCap:     cfg.Session.BackoffCap,
		BytesPerSecond: cfg.Audio.SampleRate * 2 * cfg.Audio.Channels,
		NewRecorder: func() (service.Recorder, error) {
			// A fresh capture stream per dictation; the recorder closes it on Stop
			dev, err := actx.NewCapture(selectedDevice, captureConfig)
			if err != nil {
				return nil, err
			}
			return audio.NewRecorder(dev, cfg.Audio.ChunkBytes()), nil
		},
		NewSession: func() service.Session {
			return asr.NewSession(client.Dial, sessCfg)
		},
		Injector: inj,
		Sink:     uiSink{},
	})
	activeService = svc

	hk, err := hotkey.New(cfg.Trigger.Key)
	if err != nil {
		log.Errorf("trigger key error: %v", err)
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if err := hk.Register(); err != nil {
		log.Errorf("trigger register error: %v", err)
		fmt.Printf("Error registering trigger key: %v\n", err)
		if hint, derr := hotkey.Diagnose(); derr != nil {
			fmt.Printf("Hint: %v\n", derr)
		} else {
			fmt.Printf("Hint: %s\n", hint)
		}
		os.Exit(1)
	}
	defer hk.Unregister()

	trigger := hotkey.NewTrigger(hk, toggle)
	defer trigger.Close()

	// Pause dictation while the screen is locked; a locked desktop has
	// no focused field to type into.
	lockMon, err := screenlock.Watch(func(locked bool) {
		if locked {
			log.Info("screen locked, suspending trigger")
			trigger.Suspend()
		} else {
			log.Info("screen unlocked, resuming trigger")
			trigger.Resume()
		}
	})
	if err != nil {
		log.Warnf("screen lock monitor unavailable: %v", err)
	} else {
		defer lockMon.Close()
	}

	// Merge key intents with tray menu clicks into one stream
	intents := make(chan hotkey.Intent, 4)
	go func() {
		for in := range trigger.Intents() {
			intents <- in
		}
	}()
	tray.OnRecord(
		func() {
			select {
			case intents <- hotkey.IntentStart:
			default:
			}
		},
		func() {
			select {
			case intents <- hotkey.IntentStop:
			default:
			}
		},
	)
	tray.SetDevice(deviceLineText(selectedDevice))

	// Start TUI
	if !*tuiFlag {
		tuiReadyOnce.Do(func() { close(tuiReady) })
	} else {
		tuiMu.Lock()
		tuiProgram = NewTUIProgram()
		tuiMu.Unlock()

		go func() {
			if _, err := tuiProgram.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
				os.Exit(1)
			}
			gracefulShutdown()
		}()

		<-tuiReady
	}

	trayQuit := tray.Init()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		select {
		case <-sigChan:
		case <-trayQuit:
		}
		gracefulShutdown()
	}()

	tuiSend(DeviceLineMsg{Text: deviceLineText(selectedDevice)})
	tuiSend(ModeLineMsg{Text: modeLineText(cfg)})

	svc.Run(context.Background(), intents)
}
