package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/batterylab/ctigo/internal/app"
	"github.com/batterylab/ctigo/internal/bus"
	"github.com/batterylab/ctigo/internal/config"
	"github.com/batterylab/ctigo/internal/cycler"
	"github.com/batterylab/ctigo/internal/logging"
	"github.com/batterylab/ctigo/internal/metrics"
	"github.com/batterylab/ctigo/internal/notifications"
	"github.com/batterylab/ctigo/internal/persistence"
	"github.com/batterylab/ctigo/internal/platform"
	"github.com/batterylab/ctigo/internal/poller"
)

type command struct {
	cfg   config.AppConfig
	creds cycler.Credentials
	logs  *logging.Manager
	out   io.Writer
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	return fs
}

func (c *command) dial(ctx context.Context, opts ...cycler.Option) (*cycler.Cycler, error) {
	opts = append([]cycler.Option{cycler.WithLogger(c.logs.Base())}, opts...)

	return cycler.Dial(ctx, cyclerConfig(c.cfg.Connection), c.creds, opts...)
}

func (c *command) openChannel(ctx context.Context, channel int, schedule, testName string) (*cycler.Channel, error) {
	cc := cyclerConfig(c.cfg.Connection)
	cc.Port = c.cfg.Channel.Port
	settings := cycler.ChannelSettings{
		Channel:      pickInt(channel, c.cfg.Channel.Channel),
		TestName:     pickString(testName, c.cfg.Channel.TestName),
		ScheduleName: pickString(schedule, c.cfg.Channel.ScheduleName),
	}

	return cycler.OpenChannel(ctx, cycler.ChannelConfig{CyclerConfig: cc, ChannelSettings: settings}, c.creds, cycler.WithLogger(c.logs.Base()))
}

func (c *command) status(ctx context.Context, args []string) error {
	fs := newFlagSet("status")
	channel := fs.Int("channel", 0, "1-based channel, 0 for every channel")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cy, err := c.dial(ctx)
	if err != nil {
		return describe(err)
	}
	defer cy.Close()

	channels := []int{*channel}
	if *channel == 0 {
		channels = channels[:0]
		for ch := 1; ch <= cy.NumChannels(); ch++ {
			channels = append(channels, ch)
		}
	}
	for _, ch := range channels {
		st, err := cy.ReadChannelStatus(ctx, ch)
		if err != nil {
			return describe(err)
		}
		if _, err := fmt.Fprintln(c.out, formatStatus(st)); err != nil {
			return err
		}
	}

	return nil
}

func (c *command) start(ctx context.Context, args []string) error {
	fs := newFlagSet("start")
	channel := fs.Int("channel", 0, "1-based channel (default channel.channel)")
	schedule := fs.String("schedule", "", "schedule file (default channel.schedule_name)")
	testName := fs.String("test", "", "test name (default channel.test_name)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ch, err := c.openChannel(ctx, *channel, *schedule, *testName)
	if err != nil {
		return describe(err)
	}
	defer ch.Close()

	if err := ch.StartTest(ctx, "", ""); err != nil {
		return describe(err)
	}
	_, err = fmt.Fprintf(c.out, "channel %d: test started\n", ch.Number())

	return err
}

func (c *command) stop(ctx context.Context, args []string) error {
	fs := newFlagSet("stop")
	channel := fs.Int("channel", 0, "1-based channel (default channel.channel)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ch, err := c.openChannel(ctx, *channel, "", "")
	if err != nil {
		return describe(err)
	}
	defer ch.Close()

	outcome, err := ch.StopTest(ctx)
	if err != nil {
		return describe(err)
	}
	msg := "test stopped"
	if outcome == cycler.StopNotRunning {
		msg = "no test running"
	}
	_, err = fmt.Fprintf(c.out, "channel %d: %s\n", ch.Number(), msg)

	return err
}

func (c *command) set(ctx context.Context, args []string) error {
	fs := newFlagSet("set")
	channel := fs.Int("channel", 0, "1-based channel (default channel.channel)")
	name := fs.String("name", "", "meta variable, MV_UD1..MV_UD16")
	value := fs.Float64("value", 0, "value to write")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ch, err := c.openChannel(ctx, *channel, "", "")
	if err != nil {
		return describe(err)
	}
	defer ch.Close()

	if err := ch.SetVariable(ctx, *name, float32(*value)); err != nil {
		return describe(err)
	}
	_, err = fmt.Fprintf(c.out, "channel %d: %s = %g\n", ch.Number(), *name, float32(*value))

	return err
}

func (c *command) poll(ctx context.Context, args []string) error {
	fs := newFlagSet("poll")
	channels := fs.String("channels", "", "comma separated channels or ranges, e.g. 1,3-5 (default poller.channels)")
	interval := fs.Duration("interval", 0, "poll interval (default poller.interval_s)")
	duration := fs.Duration("for", 0, "stop after this long, 0 runs until interrupted")
	record := fs.Bool("record", c.cfg.Recorder.Enabled, "store readings in sqlite")
	serveMetrics := fs.Bool("metrics", c.cfg.Metrics.Enabled, "serve Prometheus metrics")
	quiet := fs.Bool("quiet", false, "do not print readings")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pollCfg := c.cfg.Poller
	if *channels != "" {
		parsed, err := parseChannels(*channels)
		if err != nil {
			return err
		}
		pollCfg.Channels = parsed
	}
	if *interval > 0 {
		pollCfg.IntervalS = interval.Seconds()
	}

	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	m := metrics.New()
	if *serveMetrics {
		go func() {
			if err := m.Serve(ctx, c.cfg.Metrics.Listen, c.logs.Logger("metrics")); err != nil {
				c.logs.Logger("metrics").Error("metrics endpoint stopped", "error", err)
			}
		}()
	}

	cy, err := c.dial(ctx, cycler.WithObserver(m))
	if err != nil {
		return describe(err)
	}
	defer cy.Close()

	b := bus.New(c.logs.Logger("bus"))
	defer b.Close()

	target := fmt.Sprintf("%s:%d", c.cfg.Connection.IPAddress, c.cfg.Connection.Port)
	var runID string
	var rec *persistence.Recorder
	if *record {
		lock, err := platform.AcquireFileLock(c.cfg.Recorder.DBPath)
		if err != nil {
			return fmt.Errorf("lock readings db: %w", err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				c.logs.Logger("persistence").Warn("release db lock", "error", err)
			}
		}()

		db, err := persistence.Open(ctx, c.cfg.Recorder.DBPath)
		if err != nil {
			return fmt.Errorf("open readings db: %w", err)
		}
		defer db.Close()

		runs := persistence.NewRunRepo(db)
		pollRun, err := runs.Start(ctx, target, cy.LoginFeedback().SerialNumber, time.Now())
		if err != nil {
			return err
		}
		runID = pollRun.ID
		defer func() {
			if err := runs.Finish(context.WithoutCancel(ctx), pollRun.ID, time.Now()); err != nil {
				c.logs.Logger("persistence").Warn("finish run", "error", err)
			}
		}()

		// The writer outlives the recorder so its last readings are flushed.
		writer := persistence.NewWriterQueue(c.logs.Logger("persistence"), c.cfg.Recorder.QueueSize)
		writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
		writer.Start(writerCtx)
		defer func() {
			stopWriter()
			writer.Wait()
		}()
		rec = persistence.NewRecorder(c.logs.Logger("recorder"), db, writer)
	}

	sender := notifications.MultiSender{notifications.LogSender{Logger: c.logs.Logger("alerts")}}
	if c.cfg.Alerts.Desktop {
		sender = append(sender, notifications.NewDesktopSender(app.Name))
	}
	alerts := notifications.NewService(c.logs.Logger("notifications"), c.cfg.Alerts, sender)

	p, err := poller.New(cy, poller.Config{
		Channels:   pollCfg.Channels,
		Interval:   pollCfg.Interval(),
		MaxBackoff: pollCfg.MaxBackoff(),
		RunID:      runID,
		Target:     target,
		Logger:     c.logs.Logger("poller"),
		Bus:        b,
		Observer:   m,
	})
	if err != nil {
		return err
	}

	// Consumers subscribe before the first poll and stop only after the
	// poller has published its last event.
	consumersCtx, stopConsumers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopConsumers()
	stopped := []<-chan struct{}{alerts.Start(consumersCtx, b)}
	if rec != nil {
		stopped = append(stopped, rec.Start(consumersCtx, b))
	}
	if !*quiet {
		stopped = append(stopped, c.startPrinter(consumersCtx, b))
	}

	p.Run(ctx)
	stopConsumers()
	for _, done := range stopped {
		<-done
	}

	return nil
}

func (c *command) startPrinter(ctx context.Context, b bus.MessageBus) <-chan struct{} {
	sub := b.Subscribe(bus.TopicReading)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				bus.Flush(b, sub, c.printReading)

				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				c.printReading(msg)
			}
		}
	}()

	return done
}

func (c *command) printReading(msg any) {
	if r, ok := msg.(bus.Reading); ok {
		_, _ = fmt.Fprintf(c.out, "%s %s\n", r.At.Format(time.RFC3339), formatStatus(r.Status))
	}
}

func pickInt(v, fallback int) int {
	if v > 0 {
		return v
	}

	return fallback
}

func pickString(v, fallback string) string {
	if v != "" {
		return v
	}

	return fallback
}
