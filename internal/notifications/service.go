package notifications

import (
	"context"
	"log/slog"

	"github.com/batterylab/ctigo/internal/bus"
	"github.com/batterylab/ctigo/internal/config"
)

// Service forwards bus alerts enabled in the config to a Sender.
type Service struct {
	logger *slog.Logger
	cfg    config.AlertsConfig
	sender Sender
}

func NewService(logger *slog.Logger, cfg config.AlertsConfig, sender Sender) *Service {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}

	return &Service{logger: logger, cfg: cfg, sender: sender}
}

// Start subscribes to alerts before it returns and forwards them until ctx
// is done. The returned channel closes once the service has stopped.
func (s *Service) Start(ctx context.Context, b bus.MessageBus) <-chan struct{} {
	sub := b.Subscribe(bus.TopicAlert)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				bus.Flush(b, sub, s.forward)

				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				s.forward(msg)
			}
		}
	}()

	return done
}

func (s *Service) forward(msg any) {
	alert, ok := msg.(bus.Alert)
	if !ok || !s.enabled(alert.Kind) {
		return
	}
	if err := s.sender.Send(payloadFor(alert)); err != nil {
		s.logger.Warn("send notification failed", "kind", string(alert.Kind), "channel", alert.Channel, "error", err)
	}
}

func (s *Service) enabled(kind bus.AlertKind) bool {
	switch kind {
	case bus.AlertFault:
		return s.cfg.OnFault
	case bus.AlertProtocolError:
		return s.cfg.OnProtocolError
	case bus.AlertDisconnect:
		return s.cfg.OnDisconnect
	default:
		return false
	}
}
