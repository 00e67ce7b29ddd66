package alert

import (
	"context"
	"errors"

	"github.com/nerrad567/propertyhub-core/internal/device"
)

// ScopeResolver maps an alert source to the scope incidents are grouped
// and deduplicated by (a hub, building or client).
type ScopeResolver interface {
	ResolveScope(ctx context.Context, source string) string
}

// DeviceLookup is the subset of the device repository the resolver uses.
type DeviceLookup interface {
	GetByID(ctx context.Context, id string) (*device.Device, error)
}

// Logger defines the logging interface for the alert package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StaticScopes resolves sources from a fixed map and falls back to the
// source itself.
type StaticScopes map[string]string

// ResolveScope implements ScopeResolver.
func (s StaticScopes) ResolveScope(_ context.Context, source string) string {
	if scope, ok := s[source]; ok && scope != "" {
		return scope
	}
	return source
}

// DeviceScopes resolves a source from the static map first, then from the
// stored device's scope. Lookup failures fall back to the source, so
// resolution never blocks escalation.
type DeviceScopes struct {
	static  StaticScopes
	devices DeviceLookup
	logger  Logger
}

// NewDeviceScopes creates a resolver over a static map and the device store.
func NewDeviceScopes(static map[string]string, devices DeviceLookup) *DeviceScopes {
	return &DeviceScopes{static: static, devices: devices, logger: noopLogger{}}
}

// SetLogger sets the logger for lookup failures.
func (d *DeviceScopes) SetLogger(logger Logger) {
	d.logger = logger
}

// ResolveScope implements ScopeResolver.
func (d *DeviceScopes) ResolveScope(ctx context.Context, source string) string {
	if scope, ok := d.static[source]; ok && scope != "" {
		return scope
	}
	if d.devices == nil {
		return source
	}

	dev, err := d.devices.GetByID(ctx, source)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return source
	case err != nil:
		d.logger.Warn("scope lookup failed, using source", "source", source, "error", err)
		return source
	case dev.Scope != "":
		return dev.Scope
	default:
		return source
	}
}
