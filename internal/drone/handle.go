// Package drone defines the single-agent boundary consumed by the fleet.
//
// A Handle is owned by exactly one fleet worker for its whole lifetime. The
// wire protocol behind a Handle belongs to the driver, not to this module.
package drone

import (
	"context"
	"errors"
	"image"
	"strings"
)

var (
	ErrNotConnected      = errors.New("drone: not connected")
	ErrUnknownCapability = errors.New("drone: unknown capability")
	ErrInvalidArgs       = errors.New("drone: invalid capability arguments")
	ErrUnknownField      = errors.New("drone: unknown telemetry field")
	ErrNoFrameSource     = errors.New("drone: handle has no frame source")
	ErrEmptyAddress      = errors.New("drone: empty address")
)

// Telemetry fields every driver is expected to answer.
const (
	FieldBattery = "bat"
	FieldHeight  = "h"
	FieldState   = "state"
)

// Handle is the capability set of one agent.
type Handle interface {
	Connect(ctx context.Context) error
	Invoke(ctx context.Context, name string, args ...string) (string, error)
	Telemetry(ctx context.Context, field string) (string, error)
	Disconnect(ctx context.Context) error
}

// FrameSource is implemented by handles that can return the latest camera frame.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
}

// Dialer builds an unconnected Handle for one network address.
type Dialer func(ctx context.Context, addr string) (Handle, error)

// ParseAddressList splits the double-space separated address form.
// Single spaces inside an entry are trimmed away with the rest of the padding.
func ParseAddressList(raw string) []string {
	parts := strings.Split(raw, "  ")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		v := strings.TrimSpace(part)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
