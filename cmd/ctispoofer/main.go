package main

import (
	"context"
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
	"github.com/batterylab/ctigo/internal/logging"
	"github.com/batterylab/ctigo/internal/metrics"
	"github.com/batterylab/ctigo/internal/spoofer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, nil); err != nil {
		slog.Error("ctispoofer", "error", err)
		os.Exit(1)
	}
}

type options struct {
	listen        string
	channelListen string
	channels      int
	serial        string
	username      string
	delay         time.Duration
	faults        string
	metricsListen string
	logLevel      string
	logFormat     string
}

// run serves until ctx is done. ready, when set, receives the spoofers once
// they listen.
func run(ctx context.Context, args []string, getenv func(string) string, ready func([]*spoofer.Spoofer)) error {
	fs := flag.NewFlagSet("ctispoofer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var o options
	fs.StringVar(&o.listen, "listen", spoofer.DefaultAddress, "cycler-level listen address")
	fs.StringVar(&o.channelListen, "channel-listen", fmt.Sprintf("127.0.0.1:%d", config.DefaultChannelPort), "channel-level listen address, empty to disable")
	fs.IntVar(&o.channels, "channels", spoofer.DefaultNumChannels, "number of channels to report")
	fs.StringVar(&o.serial, "serial", spoofer.DefaultSerial, "serial number reported on login")
	fs.StringVar(&o.username, "username", "", "require this username on login (password from "+app.EnvPassword+")")
	fs.DurationVar(&o.delay, "delay", 0, "delay before every response")
	fs.StringVar(&o.faults, "fault", "", "comma separated channels reported as unsafe")
	fs.StringVar(&o.metricsListen, "metrics", "", "serve Prometheus metrics on this address")
	fs.StringVar(&o.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", string(config.LogFormatText), "text or json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(config.LoggingConfig{Level: o.logLevel, Format: config.LogFormat(o.logFormat)}); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()

	faults, err := parseFaults(o.faults, o.channels)
	if err != nil {
		return err
	}

	m := metrics.New()
	addrs := []string{o.listen}
	if strings.TrimSpace(o.channelListen) != "" {
		addrs = append(addrs, o.channelListen)
	}

	spoofers := make([]*spoofer.Spoofer, 0, len(addrs))
	defer func() {
		for _, s := range spoofers {
			if closeErr := s.Close(); closeErr != nil {
				slog.Warn("close spoofer", "error", closeErr)
			}
		}
	}()
	for _, addr := range addrs {
		s := spoofer.New(spoofer.Config{
			Address:       addr,
			NumChannels:   o.channels,
			SerialNumber:  o.serial,
			Username:      o.username,
			Password:      getenv(app.EnvPassword),
			ResponseDelay: o.delay,
			Logger:        logMgr.Logger("spoofer").With("addr", addr),
			Observer:      m,
		})
		for _, ch := range faults {
			st := spoofer.DefaultChannelStatus(ch)
			st.Status = cti.StatusUnsafe
			if err := s.SetChannelStatus(ch, st); err != nil {
				return err
			}
		}
		if err := s.Start(ctx); err != nil {
			return err
		}
		spoofers = append(spoofers, s)
	}

	errCh := make(chan error, 1)
	if o.metricsListen != "" {
		go func() {
			errCh <- m.Serve(ctx, o.metricsListen, logMgr.Logger("metrics"))
		}()
	}
	if ready != nil {
		ready(spoofers)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}

		return nil
	}
}

func parseFaults(raw string, numChannels int) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ch, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid fault channel %q", part)
		}
		if ch < 1 || ch > numChannels {
			return nil, fmt.Errorf("fault channel %d out of range 1..%d", ch, numChannels)
		}
		out = append(out, ch)
	}

	return out, nil
}
