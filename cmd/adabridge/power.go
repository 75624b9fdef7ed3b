package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	logindBusName    = "org.freedesktop.login1"
	logindObjectPath = dbus.ObjectPath("/org/freedesktop/login1")
	logindPowerOff   = "org.freedesktop.login1.Manager.PowerOff"
)

var errUnsupportedPlatform = errors.New("power off is not supported on this platform")

// LogindPower asks systemd-logind to power off the host.
type LogindPower struct {
	conn   *dbus.Conn
	logger *slog.Logger
}

// NewLogindPower connects to the system bus.
func NewLogindPower(logger *slog.Logger) (*LogindPower, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &LogindPower{conn: conn, logger: logger}, nil
}

// Shutdown calls Manager.PowerOff without interactive authorization.
func (p *LogindPower) Shutdown(ctx context.Context) error {
	p.logger.Info("requesting power off", "via", logindBusName)
	obj := p.conn.Object(logindBusName, logindObjectPath)
	if err := obj.CallWithContext(ctx, logindPowerOff, 0, false).Err; err != nil {
		return fmt.Errorf("logind power off: %w", err)
	}
	return nil
}

// Close releases the bus connection.
func (p *LogindPower) Close() error {
	return p.conn.Close()
}

// SyscallPower powers off with reboot(2). Requires CAP_SYS_BOOT.
type SyscallPower struct {
	logger *slog.Logger
}

func NewSyscallPower(logger *slog.Logger) *SyscallPower {
	return &SyscallPower{logger: logger}
}

func (p *SyscallPower) Shutdown(context.Context) error {
	p.logger.Info("requesting power off", "via", "reboot(2)")
	return powerOff()
}

// NoPower logs the request and does nothing.
type NoPower struct {
	logger *slog.Logger
}

func NewNoPower(logger *slog.Logger) *NoPower {
	return &NoPower{logger: logger}
}

func (p *NoPower) Shutdown(context.Context) error {
	p.logger.Warn("power off requested but power backend is disabled")
	return nil
}
