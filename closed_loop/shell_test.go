package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sca-ctrl-core/actuator"
)

func TestConsole(t *testing.T) {
	r, sim := newSimRunner(t, testConfig(currentAxis(1, 0), currentAxis(2, 0)))
	c := &console{ctx: context.Background(), r: r}
	sim.Device(2).Position = 1.5

	out, err := c.exec("handshake 1")
	require.NoError(t, err)
	require.Equal(t, "ok", out)

	out, err = c.exec("get position 2")
	require.NoError(t, err)
	require.Contains(t, out, "position=1.500000")

	out, err = c.exec("power on 0x02")
	require.NoError(t, err)
	require.Equal(t, "power on", out)
	require.Equal(t, actuator.PowerOn, sim.Device(2).Power)

	_, err = c.exec("mode profile_speed 1")
	require.NoError(t, err)
	require.Equal(t, actuator.RunModeProfileSpeed, sim.Device(1).Mode)

	_, err = c.exec("current 0.25 1")
	require.NoError(t, err)
	require.Equal(t, 0.25, sim.Device(1).Current)

	_, err = c.exec("limit speed_output_lower -0.5 1")
	require.NoError(t, err)
	require.Equal(t, -0.5, state(t, r, 1).SpeedOutputLower)

	out, err = c.exec("drive 3")
	require.NoError(t, err)
	require.Equal(t, "3 cycles, 0 failed", out)

	out, err = c.exec("list")
	require.NoError(t, err)
	require.Contains(t, out, "online")
}

func TestConsoleErrors(t *testing.T) {
	r, _ := newSimRunner(t, testConfig(currentAxis(1, 0)))
	c := &console{ctx: context.Background(), r: r}

	for line, want := range map[string]string{
		"fly 1":                    "unknown command",
		"get temperature 1":        "unknown parameter",
		"get current_output_upper": "usage",
		"handshake x":              "bad actuator id",
		"power maybe 1":            "on or off",
		"mode warp 1":              "unknown run mode",
		"limit set_current 0.5 1":  "unknown limit",
		"drive 0":                  "bad cycle count",
	} {
		_, err := c.exec(line)
		require.Error(t, err, line)
		require.Contains(t, err.Error(), want, line)
	}

	_, err := c.exec("speed 2 1")
	require.ErrorIs(t, err, actuator.ErrOutOfRange)
	_, err = c.exec("handshake 9")
	require.ErrorIs(t, err, actuator.ErrDeviceNotFound)

	out, err := c.exec("   ")
	require.NoError(t, err)
	require.Empty(t, out)
}
