package cycler

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/batterylab/ctigo/internal/cti"
	"github.com/batterylab/ctigo/internal/spoofer"
)

func startEmulator(t *testing.T, cfg spoofer.Config) (*spoofer.Spoofer, CyclerConfig) {
	t.Helper()

	cfg.Address = "127.0.0.1:0"
	s := spoofer.New(cfg)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	host, portText, err := net.SplitHostPort(s.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	return s, CyclerConfig{Address: host, Port: port, Timeout: 2 * time.Second}
}

func TestDialAgainstEmulator(t *testing.T) {
	_, cfg := startEmulator(t, spoofer.Config{NumChannels: 8, SerialNumber: "EMU-1"})

	c, err := Dial(context.Background(), cfg, Credentials{Username: "op", Password: "pw"})
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, 8, c.NumChannels())
	require.Equal(t, "EMU-1", c.LoginFeedback().SerialNumber)

	st, err := c.ReadChannelStatus(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, st.Channel)
	require.Equal(t, cti.RunStateIdle, st.State)
	require.InDelta(t, 3.7, st.Voltage, 1e-6)

	_, err = c.ReadChannelStatus(context.Background(), 9)
	var invalid *InvalidChannelError
	require.ErrorAs(t, err, &invalid)
}

func TestDialRejectedCredentials(t *testing.T) {
	_, cfg := startEmulator(t, spoofer.Config{Username: "op", Password: "secret"})

	_, err := Dial(context.Background(), cfg, Credentials{Username: "op", Password: "guess"})
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, cti.LoginFailed, authErr.Result)
	require.NotContains(t, err.Error(), "guess")
}

func TestChannelLifecycleAgainstEmulator(t *testing.T) {
	s, cfg := startEmulator(t, spoofer.Config{NumChannels: 4})
	ctx := context.Background()

	ch, err := OpenChannel(ctx, ChannelConfig{
		CyclerConfig:    cfg,
		ChannelSettings: ChannelSettings{Channel: 2, TestName: "formation", ScheduleName: "cc.sdx"},
	}, Credentials{Username: "op"})
	require.NoError(t, err)
	defer ch.Close()

	// The emulator keeps no run state, so a second start is acknowledged too.
	require.NoError(t, ch.StartTest(ctx, "", ""))
	require.NoError(t, ch.StartTest(ctx, "", ""))

	outcome, err := ch.StopTest(ctx)
	require.NoError(t, err)
	require.Equal(t, StopNotRunning, outcome)

	require.NoError(t, s.SetChannelStatus(2, cti.ChannelStatus{Status: cti.StatusCharge, Voltage: 4.0}))
	outcome, err = ch.StopTest(ctx)
	require.NoError(t, err)
	require.Equal(t, StopSent, outcome)

	require.NoError(t, ch.SetVariable(ctx, "mv_ud3", 1.25))

	var invalidVar *InvalidVariableError
	require.ErrorAs(t, ch.SetVariable(ctx, "MV_UD17", 1), &invalidVar)
}

func TestReconnectAfterEmulatorDropsSession(t *testing.T) {
	_, cfg := startEmulator(t, spoofer.Config{})
	ctx := context.Background()

	c, err := Dial(ctx, cfg, Credentials{Username: "op"})
	require.NoError(t, err)
	defer c.Close()

	// Closing the local session simulates a stale connection.
	require.NoError(t, c.exchanger.Close())
	_, err = c.ReadChannelStatus(ctx, 1)
	require.Error(t, err)

	require.NoError(t, c.Reconnect(ctx))
	_, err = c.ReadChannelStatus(ctx, 1)
	require.NoError(t, err)
}
