package spoofer

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/batterylab/ctigo/internal/cti"
	"github.com/batterylab/ctigo/internal/transport"
)

func (s *Spoofer) handleConn(conn net.Conn) {
	logger := s.logger.With("remote", conn.RemoteAddr().String())
	logger.Info("client connected")

	for {
		frame, err := transport.ReadFrame(conn, s.cfg.MsgBufferSize, s.cfg.MaxFrameSize)
		if err != nil {
			s.logReadError(logger, err)

			return
		}

		cmd, resp := s.respond(logger, frame)
		if s.cfg.ResponseDelay > 0 {
			select {
			case <-time.After(s.cfg.ResponseDelay):
			case <-s.done:
				return
			}
		}
		if _, err := conn.Write(resp); err != nil {
			logger.Debug("write response failed", "command", cmd.String(), "error", err)

			return
		}
	}
}

func (s *Spoofer) logReadError(logger *slog.Logger, err error) {
	var closedErr *transport.ConnectionClosedError
	var framingErr *cti.FramingError
	var overflowErr *transport.BufferOverflowError
	switch {
	case errors.As(err, &closedErr), errors.Is(err, net.ErrClosed):
		logger.Info("client disconnected")
	case errors.As(err, &framingErr), errors.As(err, &overflowErr):
		// Without a usable length the stream cannot be resynchronised.
		s.observe(0, OutcomeDropped)
		logger.Warn("unframeable header, closing connection", "error", err)
	default:
		logger.Debug("read failed", "error", err)
	}
}

// respond builds the reply to one complete frame. Frames that cannot be
// served are answered with a protocol error frame.
func (s *Spoofer) respond(logger *slog.Logger, frame []byte) (cti.Command, []byte) {
	cmd, v, err := s.codec.Decode(frame)
	if err != nil {
		reason := cti.ReasonMalformedFrame
		var sumErr *cti.ChecksumError
		var unknownErr *cti.UnknownCommandError
		switch {
		case errors.As(err, &sumErr):
			reason = cti.ReasonChecksum
		case errors.As(err, &unknownErr):
			reason = cti.ReasonUnknownCommand
		}
		logger.Warn("rejecting frame", "command", cmd.String(), "reason", reason.String(), "error", err)

		return cmd, s.protocolError(cmd, reason, err.Error())
	}
	if !cmd.IsRequest() {
		logger.Warn("rejecting response-only command", "command", cmd.String())

		return cmd, s.protocolError(cmd, cti.ReasonNotARequest, cmd.String()+" is not a request")
	}

	channel := int(v.Int("channel")) + 1
	var out []byte
	switch cmd {
	case cti.CmdLogin:
		out, err = s.codec.Encode(cti.CmdLoginFeedback, s.loginFeedback(v).Values())
	case cti.CmdChannelInfo:
		if !s.validChannel(channel) {
			return cmd, s.protocolError(cmd, cti.ReasonInvalidChannel, "channel out of range")
		}
		out, err = s.codec.Encode(cti.CmdChannelInfoFeedback, s.ChannelStatus(channel).Values())
	case cti.CmdSetMetaVariable:
		result := cti.ResultSuccess
		switch {
		case !s.validChannel(channel):
			result = cti.SetMVFailure
		case !cti.IsMetaVariableCode(int32(v.Int("mv_meta_code"))):
			result = cti.SetMVUnknownMetaCode
		}
		out, err = s.ack(cmd, channel, result)
	default:
		result := cti.ResultSuccess
		if !s.validChannel(channel) {
			// Channel-not-found is code 16 for assign, start and stop alike.
			result = cti.AssignChannelNotFound
		}
		out, err = s.ack(cmd, channel, result)
	}
	if err != nil {
		logger.Error("encode response failed", "command", cmd.String(), "error", err)

		return cmd, s.protocolError(cmd, cti.ReasonEncoding, err.Error())
	}
	s.observe(cmd, OutcomeOK)
	logger.Debug("served", "command", cmd.String(), "channel", channel)

	return cmd, out
}

func (s *Spoofer) loginFeedback(v cti.Values) cti.LoginFeedback {
	fb := cti.LoginFeedback{
		Result:       cti.LoginSuccess,
		SerialNumber: s.cfg.SerialNumber,
		NumChannels:  s.cfg.NumChannels,
		AllowControl: true,
		UserType:     1,
	}
	if s.cfg.Username != "" && (v.Text("username") != s.cfg.Username || v.Text("password") != s.cfg.Password) {
		s.logger.Warn("login rejected", "username", v.Text("username"))
		fb.Result = cti.LoginFailed
		fb.NumChannels = 0
	}

	return fb
}

func (s *Spoofer) ack(cmd cti.Command, channel int, result uint8) ([]byte, error) {
	fb, _ := cti.FeedbackFor(cmd)

	return s.codec.Encode(fb, cti.Feedback{Channel: channel, Result: result}.Values())
}

func (s *Spoofer) validChannel(channel int) bool {
	return channel >= 1 && channel <= s.cfg.NumChannels
}

func (s *Spoofer) protocolError(rejected cti.Command, reason cti.ProtocolErrorReason, detail string) []byte {
	s.observe(rejected, OutcomeProtocolError)
	frame, err := s.codec.Encode(cti.CmdProtocolError, cti.ProtocolError{Rejected: rejected, Reason: reason, Detail: detail}.Values())
	if err != nil {
		// Only reachable with a custom table lacking the error layout.
		s.logger.Error("encode protocol error failed", "error", err)

		return nil
	}

	return frame
}

func (s *Spoofer) observe(cmd cti.Command, outcome string) {
	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveFrame(cmd, outcome)
	}
}
