package drivertest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorapi/internal/driver"
	"github.com/banshee-data/sensorapi/internal/scanmsg"
)

type countingSink struct {
	driver.Sink
	imu int
}

func (c *countingSink) Imu(*scanmsg.Imu) { c.imu++ }

func TestFake_SubscribeAndEmit(t *testing.T) {
	d := New("caller")
	sink := &countingSink{}
	d.Subscribe(scanmsg.KindImu, sink)
	d.Subscribe(scanmsg.KindImu, sink)
	assert.True(t, d.Subscribed(scanmsg.KindImu))

	assert.Equal(t, 1, d.Emit(scanmsg.KindImu, &scanmsg.Imu{}))
	assert.Equal(t, 1, sink.imu)

	// wrong payload type is not delivered
	assert.Equal(t, 0, d.Emit(scanmsg.KindImu, &scanmsg.FieldResult{}))

	d.Unsubscribe(scanmsg.KindImu, sink)
	assert.False(t, d.Subscribed(scanmsg.KindImu))
	assert.Equal(t, 0, d.Emit(scanmsg.KindImu, &scanmsg.Imu{}))
}

func TestFake_StartStop(t *testing.T) {
	d := New("caller")
	code, err := d.Start(context.Background(), []string{"caller", "--a"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.True(t, d.Running())

	_, err = d.Start(context.Background(), nil)
	assert.ErrorIs(t, err, driver.ErrAlreadyRunning)

	require.NoError(t, d.Stop())
	assert.False(t, d.Running())
	assert.Equal(t, 1, d.Stops())
	assert.Equal(t, []string{"caller", "--a"}, d.Starts()[0])
}

func TestFake_StartFailure(t *testing.T) {
	d := New("caller")
	d.ExitCode = 2
	code, err := d.Start(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.False(t, d.Running())

	d.ExitCode = 0
	d.StartErr = errors.New("no device")
	_, err = d.Start(context.Background(), nil)
	assert.Error(t, err)
	assert.False(t, d.Running())
}

func TestFactory(t *testing.T) {
	var created []*Driver
	f := Factory(&created)
	drv, err := f("me")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Same(t, created[0], drv)
	assert.Equal(t, "me", created[0].CallerID)
}
