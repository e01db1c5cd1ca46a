package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/batterylab/ctigo/internal/cti"
)

func TestObserveExchangeCountsByOutcome(t *testing.T) {
	m := New()
	m.ObserveExchange(cti.CmdLogin, "ok", 10*time.Millisecond)
	m.ObserveExchange(cti.CmdChannelInfo, "ok", 20*time.Millisecond)
	m.ObserveExchange(cti.CmdChannelInfo, "ok", 20*time.Millisecond)
	m.ObserveExchange(cti.CmdChannelInfo, "error", time.Second)

	if got := testutil.ToFloat64(m.exchanges.WithLabelValues("ChannelInfo", "ok")); got != 2 {
		t.Fatalf("expected 2 ok channel info exchanges, got %v", got)
	}
	if got := testutil.ToFloat64(m.exchanges.WithLabelValues("ChannelInfo", "error")); got != 1 {
		t.Fatalf("expected 1 failed exchange, got %v", got)
	}
	if got := testutil.CollectAndCount(m.exchangeDuration); got != 2 {
		t.Fatalf("expected histograms for 2 commands, got %d", got)
	}
}

func TestObserveReadingSetsOneHotState(t *testing.T) {
	m := New()
	at := time.Unix(1700000000, 0)
	m.ObserveReading(cti.ChannelStatus{Channel: 4, State: cti.RunStateFault, Voltage: 2.5, Current: -1}, at)

	if got := testutil.ToFloat64(m.voltage.WithLabelValues("4")); got != 2.5 {
		t.Fatalf("expected voltage 2.5, got %v", got)
	}
	if got := testutil.ToFloat64(m.current.WithLabelValues("4")); got != -1 {
		t.Fatalf("expected current -1, got %v", got)
	}
	if got := testutil.ToFloat64(m.state.WithLabelValues("4", "fault")); got != 1 {
		t.Fatalf("expected fault state gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.state.WithLabelValues("4", "idle")); got != 0 {
		t.Fatalf("expected idle state gauge 0, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastPoll.WithLabelValues("4")); got != 1700000000 {
		t.Fatalf("expected last poll timestamp, got %v", got)
	}
}

func TestHandlerExposesMetricsAndHealth(t *testing.T) {
	m := New()
	m.ObserveFrame(cti.CmdStartSchedule, "ok")
	m.IncReconnects()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	body := get(t, srv.URL+"/metrics")
	for _, want := range []string{
		`ctigo_spoofer_frames_total{command="StartSchedule",outcome="ok"} 1`,
		`ctigo_reconnects_total 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
	if got := get(t, srv.URL+"/health"); got != "OK" {
		t.Fatalf("expected OK from health, got %q", got)
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.IncReconnects()
	if got := testutil.ToFloat64(b.reconnects); got != 0 {
		t.Fatalf("expected separate registries, got %v", got)
	}
}

func get(t *testing.T, url string) string {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	return string(raw)
}
