// Package sim provides an in-memory flying agent that satisfies drone.Handle.
//
// It keeps a coarse kinematic state (position, height, battery) and records
// every accepted call so tests and the simulate mode can observe fleet traffic.
package sim

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/flockctl/internal/drone"
)

const (
	takeoffHeight = 80
	defaultSpeed  = 10
	batteryPerCmd = 1
)

// Call is one accepted Invoke.
type Call struct {
	Name string
	Args []string
	At   time.Time
}

type options struct {
	battery        int
	latency        time.Duration
	connectErr     error
	telemetryErr   error
	disconnectErr  error
	invokeErr      map[string]error
	invokeHook     func(name string, args []string)
	frame          image.Image
	frameW, frameH int
	seed           int64
}

type Option func(*options)

func WithBattery(pct int) Option {
	return func(o *options) { o.battery = pct }
}

// WithLatency delays every Invoke, honoring context cancellation.
func WithLatency(d time.Duration) Option {
	return func(o *options) { o.latency = d }
}

func WithConnectError(err error) Option {
	return func(o *options) { o.connectErr = err }
}

func WithTelemetryError(err error) Option {
	return func(o *options) { o.telemetryErr = err }
}

func WithDisconnectError(err error) Option {
	return func(o *options) { o.disconnectErr = err }
}

// WithInvokeError makes one capability fail; an empty name fails every capability.
func WithInvokeError(name string, err error) Option {
	return func(o *options) {
		if o.invokeErr == nil {
			o.invokeErr = make(map[string]error)
		}
		o.invokeErr[name] = err
	}
}

// WithInvokeHook runs fn inside Invoke before state is updated.
func WithInvokeHook(fn func(name string, args []string)) Option {
	return func(o *options) { o.invokeHook = fn }
}

func WithFrame(img image.Image) Option {
	return func(o *options) { o.frame = img }
}

// WithTexture sets the seed and size of the generated camera frame.
func WithTexture(w, h int, seed int64) Option {
	return func(o *options) {
		o.frameW, o.frameH, o.seed = w, h, seed
	}
}

// Drone is a simulated agent. It is safe for concurrent use, although the
// fleet only ever calls it from one worker.
type Drone struct {
	addr string
	opts options

	mu         sync.Mutex
	connected  bool
	flying     bool
	streaming  bool
	x, y, z    int
	yaw        int
	speed      int
	battery    int
	calls      []Call
	disconnect int
}

func New(addr string, opts ...Option) *Drone {
	o := options{battery: 100, frameW: 160, frameH: 120, seed: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return &Drone{
		addr:    addr,
		opts:    o,
		speed:   defaultSpeed,
		battery: o.battery,
	}
}

var _ drone.Handle = (*Drone)(nil)
var _ drone.FrameSource = (*Drone)(nil)

// Dialer returns a drone.Dialer producing simulated agents with shared options.
func Dialer(opts ...Option) drone.Dialer {
	return func(ctx context.Context, addr string) (drone.Handle, error) {
		if strings.TrimSpace(addr) == "" {
			return nil, drone.ErrEmptyAddress
		}
		return New(addr, opts...), nil
	}
}

func (d *Drone) Addr() string {
	return d.addr
}

func (d *Drone) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.opts.connectErr != nil {
		return d.opts.connectErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *Drone) Invoke(ctx context.Context, name string, args ...string) (string, error) {
	if d.opts.latency > 0 {
		timer := time.NewTimer(d.opts.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.opts.invokeHook != nil {
		d.opts.invokeHook(name, args)
	}
	if err, ok := d.opts.invokeErr[name]; ok {
		return "", err
	}
	if err, ok := d.opts.invokeErr[""]; ok {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return "", drone.ErrNotConnected
	}
	if err := d.apply(name, args); err != nil {
		return "", err
	}
	d.calls = append(d.calls, Call{Name: name, Args: append([]string(nil), args...), At: time.Now()})
	if d.battery > 0 {
		d.battery -= batteryPerCmd
	}
	return "ok", nil
}

func (d *Drone) apply(name string, args []string) error {
	ints, err := parseInts(args)
	switch name {
	case drone.CapTakeoff:
		d.flying = true
		d.z = takeoffHeight
	case drone.CapLand, drone.CapEmergency:
		d.flying = false
		d.z = 0
	case drone.CapStreamOn:
		d.streaming = true
	case drone.CapStreamOff:
		d.streaming = false
	case drone.CapFlip:
		if len(args) != 1 {
			return fmt.Errorf("%w: flip needs a direction", drone.ErrInvalidArgs)
		}
	case drone.CapMoveUp, drone.CapMoveDown, drone.CapMoveLeft, drone.CapMoveRight,
		drone.CapMoveForward, drone.CapMoveBack, drone.CapRotateCW, drone.CapRotateCCW, drone.CapSetSpeed:
		if err != nil || len(ints) != 1 {
			return fmt.Errorf("%w: %s needs one integer", drone.ErrInvalidArgs, name)
		}
		d.applyScalar(name, ints[0])
	case drone.CapGo:
		if err != nil || len(ints) != 4 {
			return fmt.Errorf("%w: go needs x y z speed", drone.ErrInvalidArgs)
		}
		d.x += ints[0]
		d.y += ints[1]
		d.z += ints[2]
		d.speed = ints[3]
	default:
		return fmt.Errorf("%w: %q", drone.ErrUnknownCapability, name)
	}
	return nil
}

func (d *Drone) applyScalar(name string, v int) {
	switch name {
	case drone.CapMoveUp:
		d.z += v
	case drone.CapMoveDown:
		d.z -= v
	case drone.CapMoveLeft:
		d.x -= v
	case drone.CapMoveRight:
		d.x += v
	case drone.CapMoveForward:
		d.y += v
	case drone.CapMoveBack:
		d.y -= v
	case drone.CapRotateCW:
		d.yaw = (d.yaw + v) % 360
	case drone.CapRotateCCW:
		d.yaw = (d.yaw - v + 360) % 360
	case drone.CapSetSpeed:
		d.speed = v
	}
}

func (d *Drone) Telemetry(ctx context.Context, field string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.opts.telemetryErr != nil {
		return "", d.opts.telemetryErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return "", drone.ErrNotConnected
	}
	switch field {
	case drone.FieldBattery:
		return strconv.Itoa(d.battery), nil
	case drone.FieldHeight:
		return strconv.Itoa(d.z), nil
	case drone.FieldState:
		if d.flying {
			return "flying", nil
		}
		return "landed", nil
	case "x":
		return strconv.Itoa(d.x), nil
	case "y":
		return strconv.Itoa(d.y), nil
	case "yaw":
		return strconv.Itoa(d.yaw), nil
	case "speed":
		return strconv.Itoa(d.speed), nil
	default:
		return "", fmt.Errorf("%w: %q", drone.ErrUnknownField, field)
	}
}

func (d *Drone) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	d.disconnect++
	d.connected = false
	d.streaming = false
	d.mu.Unlock()
	return d.opts.disconnectErr
}

// Frame returns the configured frame or a deterministic texture.
func (d *Drone) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	connected := d.connected
	d.mu.Unlock()
	if !connected {
		return nil, drone.ErrNotConnected
	}
	if d.opts.frame != nil {
		return d.opts.frame, nil
	}
	return Texture(d.opts.frameW, d.opts.frameH, d.opts.seed), nil
}

// Calls returns a copy of the accepted invocation history.
func (d *Drone) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallNames returns accepted capability names in order.
func (d *Drone) CallNames() []string {
	calls := d.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Name
	}
	return out
}

func (d *Drone) Position() (x, y, z int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.x, d.y, d.z
}

func (d *Drone) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Disconnects counts Disconnect calls.
func (d *Drone) Disconnects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnect
}

// Texture draws random 4x4 blocks so corner detectors find stable features.
func Texture(w, h int, seed int64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(seed))
	const block = 4
	for by := 0; by < h; by += block {
		for bx := 0; bx < w; bx += block {
			v := uint8(rng.Intn(256))
			for y := by; y < by+block && y < h; y++ {
				for x := bx; x < bx+block && x < w; x++ {
					img.SetGray(x, y, color.Gray{Y: v})
				}
			}
		}
	}
	return img
}

func parseInts(args []string) ([]int, error) {
	out := make([]int, 0, len(args))
	for _, a := range args {
		v, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
