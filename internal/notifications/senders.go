package notifications

import (
	"fmt"
	"log/slog"

	"github.com/gen2brain/beeep"

	"github.com/batterylab/ctigo/internal/bus"
)

// Payload is one operator notification derived from a poller alert. Channel
// is 0 for alerts about the whole instrument.
type Payload struct {
	Kind    bus.AlertKind
	Channel int
	Title   string
	Content string
}

func payloadFor(alert bus.Alert) Payload {
	return Payload{Kind: alert.Kind, Channel: alert.Channel, Title: alert.Title, Content: alert.Message}
}

// Sender delivers a Payload through some backend.
type Sender interface {
	Send(payload Payload) error
}

// DesktopSender shows notifications through the OS notification center.
type DesktopSender struct {
	AppName string
	notify  func(title, message string, icon any) error
}

func NewDesktopSender(appName string) *DesktopSender {
	return &DesktopSender{AppName: appName, notify: beeep.Notify}
}

func (s *DesktopSender) Send(payload Payload) error {
	title := payload.Title
	if s.AppName != "" {
		title = s.AppName + ": " + title
	}
	if err := s.notify(title, payload.Content, ""); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}

	return nil
}

// LogSender writes notifications to the log.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(payload Payload) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"kind", string(payload.Kind), "alert", payload.Content}
	if payload.Channel > 0 {
		attrs = append(attrs, "channel", payload.Channel)
	}
	logger.Warn(payload.Title, attrs...)

	return nil
}

// MultiSender tries every sender and returns the first failure.
type MultiSender []Sender

func (m MultiSender) Send(payload Payload) error {
	var firstErr error
	for _, s := range m {
		if err := s.Send(payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
