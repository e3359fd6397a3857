package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/flockctl/internal/drone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDroneRequiresConnect(t *testing.T) {
	d := New("10.0.0.1")
	_, err := d.Invoke(context.Background(), drone.CapTakeoff)
	require.ErrorIs(t, err, drone.ErrNotConnected)
	_, err = d.Frame(context.Background())
	require.ErrorIs(t, err, drone.ErrNotConnected)
}

func TestDroneKinematicsAndTelemetry(t *testing.T) {
	ctx := context.Background()
	d := New("10.0.0.1", WithBattery(50))
	require.NoError(t, d.Connect(ctx))

	for _, step := range []struct {
		name string
		args []string
	}{
		{drone.CapTakeoff, nil},
		{drone.CapMoveUp, []string{"20"}},
		{drone.CapGo, []string{"10", "-5", "0", "30"}},
		{drone.CapRotateCCW, []string{"90"}},
	} {
		reply, err := d.Invoke(ctx, step.name, step.args...)
		require.NoError(t, err, step.name)
		assert.Equal(t, "ok", reply)
	}

	x, y, z := d.Position()
	assert.Equal(t, 10, x)
	assert.Equal(t, -5, y)
	assert.Equal(t, 100, z)

	bat, err := d.Telemetry(ctx, drone.FieldBattery)
	require.NoError(t, err)
	assert.Equal(t, "46", bat)
	yaw, err := d.Telemetry(ctx, "yaw")
	require.NoError(t, err)
	assert.Equal(t, "270", yaw)
	state, err := d.Telemetry(ctx, drone.FieldState)
	require.NoError(t, err)
	assert.Equal(t, "flying", state)

	_, err = d.Telemetry(ctx, "altitude")
	require.ErrorIs(t, err, drone.ErrUnknownField)
	assert.Equal(t, []string{drone.CapTakeoff, drone.CapMoveUp, drone.CapGo, drone.CapRotateCCW}, d.CallNames())
}

func TestDroneFailureInjection(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	d := New("10.0.0.2", WithInvokeError(drone.CapFlip, boom), WithDisconnectError(boom))
	require.NoError(t, d.Connect(ctx))

	_, err := d.Invoke(ctx, drone.CapFlip, "l")
	require.ErrorIs(t, err, boom)
	_, err = d.Invoke(ctx, "warp", "9")
	require.ErrorIs(t, err, drone.ErrUnknownCapability)
	_, err = d.Invoke(ctx, drone.CapMoveUp, "up")
	require.ErrorIs(t, err, drone.ErrInvalidArgs)

	require.ErrorIs(t, d.Disconnect(ctx), boom)
	assert.False(t, d.Connected())
	assert.Equal(t, 1, d.Disconnects())
	assert.Empty(t, d.Calls())
}

func TestDialerAndTexture(t *testing.T) {
	dial := Dialer(WithBattery(80))
	_, err := dial(context.Background(), " ")
	require.ErrorIs(t, err, drone.ErrEmptyAddress)

	h, err := dial(context.Background(), "10.0.0.3")
	require.NoError(t, err)
	require.NoError(t, h.Connect(context.Background()))
	img, err := h.(drone.FrameSource).Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 160, img.Bounds().Dx())

	a := Texture(32, 32, 9)
	b := Texture(32, 32, 9)
	assert.Equal(t, a.Pix, b.Pix)
}
