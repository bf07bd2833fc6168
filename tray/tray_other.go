//go:build !darwin

package tray

import "windvox/service"

func Init() <-chan struct{}           { return quitCh }
func updateStatusIcon(service.Status) {}
func updateDeviceTitle(string)        {}
func updateTooltip(string)            {}
