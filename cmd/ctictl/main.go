package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/batterylab/ctigo/internal/app"
	"github.com/batterylab/ctigo/internal/config"
	"github.com/batterylab/ctigo/internal/cti"
	"github.com/batterylab/ctigo/internal/cycler"
	"github.com/batterylab/ctigo/internal/logging"
	"github.com/batterylab/ctigo/internal/transport"
)

const usage = `usage: ctictl [flags] <command> [command flags]

commands:
  status   print channel status (-channel N, 0 for all)
  start    assign a schedule and start a test
  stop     stop the running test
  set      write a meta variable (MV_UD1..MV_UD16)
  poll     poll channels, record readings and raise alerts

credentials are read from ` + app.EnvUsername + ` and ` + app.EnvPassword + `
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout); err != nil {
		slog.Error("ctictl", "error", err)
		os.Exit(1)
	}
}

// globals are the flags shared by every command.
type globals struct {
	configPath  string
	ip          string
	port        int
	channelPort int
	timeout     time.Duration
	logLevel    string
	logFormat   string
	version     bool
}

func run(ctx context.Context, args []string, getenv func(string) string, stdout io.Writer) error {
	fs := flag.NewFlagSet("ctictl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var g globals
	fs.StringVar(&g.configPath, "config", "", "config file (default: user config dir)")
	fs.StringVar(&g.ip, "ip", "", "instrument address, overrides connection.ip_address")
	fs.IntVar(&g.port, "port", 0, "cycler-level CTI port, overrides connection.port")
	fs.IntVar(&g.channelPort, "channel-port", 0, "channel-level CTI port, overrides channel.port")
	fs.DurationVar(&g.timeout, "timeout", 0, "exchange timeout, overrides connection.timeout_s")
	fs.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&g.logFormat, "log-format", "", "text or json")
	fs.BoolVar(&g.version, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\n%s", err, usage)
	}
	if g.version {
		_, err := fmt.Fprintln(stdout, app.BuildString())

		return err
	}
	if fs.NArg() == 0 {
		return errors.New(usage)
	}

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()

	creds, err := credentialsFromEnv(getenv)
	if err != nil {
		return err
	}

	cmd := &command{cfg: cfg, creds: creds, logs: logMgr, out: stdout}
	name, rest := fs.Arg(0), fs.Args()[1:]
	switch name {
	case "status":
		return cmd.status(ctx, rest)
	case "start":
		return cmd.start(ctx, rest)
	case "stop":
		return cmd.stop(ctx, rest)
	case "set":
		return cmd.set(ctx, rest)
	case "poll":
		return cmd.poll(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q\n%s", name, usage)
	}
}

func loadConfig(g globals) (config.AppConfig, error) {
	path := g.configPath
	if path == "" {
		paths, err := app.ResolvePaths()
		if err != nil {
			return config.AppConfig{}, fmt.Errorf("resolve paths: %w", err)
		}
		path = paths.ConfigFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	applyOverrides(&cfg, g)
	if err := cfg.Validate(); err != nil {
		return config.AppConfig{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func applyOverrides(cfg *config.AppConfig, g globals) {
	if ip := strings.TrimSpace(g.ip); ip != "" {
		cfg.Connection.IPAddress = ip
	}
	if g.port > 0 {
		cfg.Connection.Port = g.port
	}
	if g.channelPort > 0 {
		cfg.Channel.Port = g.channelPort
	}
	if g.timeout > 0 {
		cfg.Connection.TimeoutS = g.timeout.Seconds()
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = config.LogFormat(g.logFormat)
	}
	cfg.FillMissingDefaults()
}

func credentialsFromEnv(getenv func(string) string) (cycler.Credentials, error) {
	creds := cycler.Credentials{
		Username: strings.TrimSpace(getenv(app.EnvUsername)),
		Password: getenv(app.EnvPassword),
	}
	if creds.Username == "" {
		return cycler.Credentials{}, fmt.Errorf("missing credentials: set %s and %s", app.EnvUsername, app.EnvPassword)
	}

	return creds, nil
}

func cyclerConfig(c config.ConnectionConfig) cycler.CyclerConfig {
	return cycler.CyclerConfig{
		Address:       c.IPAddress,
		Port:          c.Port,
		Timeout:       c.Timeout(),
		MsgBufferSize: c.MsgBufferSize,
		MaxFrameSize:  c.MaxFrameSize,
	}
}

func parseChannels(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			from, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid channel range %q", part)
			}
			to, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || to < from {
				return nil, fmt.Errorf("invalid channel range %q", part)
			}
			for ch := from; ch <= to; ch++ {
				out = append(out, ch)
			}

			continue
		}
		ch, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q", part)
		}
		out = append(out, ch)
	}
	for _, ch := range out {
		if ch <= 0 {
			return nil, fmt.Errorf("channel %d must be 1 or greater", ch)
		}
	}

	return out, nil
}

func formatStatus(st cti.ChannelStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "channel %d: %s (%s) %.4f V %.4f A", st.Channel, st.Status, st.State, st.Voltage, st.Current)
	if st.TestName != "" {
		fmt.Fprintf(&b, " test=%q", st.TestName)
	}
	if st.Schedule != "" {
		fmt.Fprintf(&b, " schedule=%q", st.Schedule)
	}
	if st.TestTime > 0 {
		fmt.Fprintf(&b, " test_time=%s", st.TestTime.Truncate(time.Second))
	}
	if st.CommFailure {
		b.WriteString(" comm_failure")
	}
	for _, a := range st.Aux() {
		fmt.Fprintf(&b, " aux_%s=%.4f", a.Kind, a.Value)
	}

	return b.String()
}

// describe adds an operator hint to errors that need one.
func describe(err error) error {
	if transport.Reconnectable(err) {
		return fmt.Errorf("%w (connection lost; the command may or may not have reached the instrument)", err)
	}

	return err
}
