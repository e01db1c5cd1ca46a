package bus

import (
	"time"

	"github.com/batterylab/ctigo/internal/cti"
)

// ConnectionState describes the poller's connection lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnectionStatus is a bus event snapshot of the instrument connection.
type ConnectionStatus struct {
	State     ConnectionState
	Err       string
	Target    string
	Timestamp time.Time
}

// Reading is one polled channel status.
type Reading struct {
	RunID  string
	At     time.Time
	Status cti.ChannelStatus
}

// AlertKind classifies operator alerts.
type AlertKind string

const (
	AlertFault         AlertKind = "fault"
	AlertProtocolError AlertKind = "protocol_error"
	AlertDisconnect    AlertKind = "disconnect"
)

// Alert is raised by the poller for events an operator should see.
type Alert struct {
	Kind    AlertKind
	Channel int
	Title   string
	Message string
	At      time.Time
}
