package tomato

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/micro-ha/tomato-presence/addon/internal/model"
)

const devlistBody = "wldev = [['eth1','AA:BB:CC:DD:EE:FF','1']];\n" +
	"dhcpd_lease = [['Phone','192.168.1.5','AA:BB:CC:DD:EE:FF','22:10:01']];\n"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(host string) model.RouterConfig {
	return model.RouterConfig{Host: host, Username: "admin", Password: "secret", HTTPID: "TID0123"}
}

func newTestScanner(t *testing.T, handler http.HandlerFunc) (*Scanner, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return New(testConfig(strings.TrimPrefix(ts.URL, "http://")), testLogger()), &requests
}

func serveBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	}
}

// forceStale rewinds the freshness timestamp so the next poll fetches.
func forceStale(s *Scanner) {
	s.mu.Lock()
	s.lastUpdated = time.Now().Add(-2 * minTimeBetweenScans)
	s.mu.Unlock()
}

func TestScanDevicesEndToEnd(t *testing.T) {
	var gotAuth, gotForm bool
	s, _ := newTestScanner(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/update.cgi" {
			t.Errorf("path = %s, want /update.cgi", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		gotAuth = ok && user == "admin" && pass == "secret"
		if err := r.ParseForm(); err == nil {
			gotForm = r.PostForm.Get("_http_id") == "TID0123" && r.PostForm.Get("exec") == "devlist"
		}
		_, _ = io.WriteString(w, devlistBody)
	})

	if !s.SuccessInit() {
		t.Fatal("SuccessInit() = false, want true")
	}
	if !gotAuth {
		t.Fatal("request did not carry expected basic auth credentials")
	}
	if !gotForm {
		t.Fatal("request did not carry expected form parameters")
	}

	ctx := context.Background()
	macs := s.ScanDevices(ctx)
	if len(macs) != 1 || macs[0] != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("ScanDevices() = %v, want [AA:BB:CC:DD:EE:FF]", macs)
	}
	name, ok := s.DeviceName(ctx, "AA:BB:CC:DD:EE:FF")
	if !ok || name != "Phone" {
		t.Fatalf("DeviceName() = %q, %v, want Phone, true", name, ok)
	}
}

func TestScanThrottlesWithinFreshnessWindow(t *testing.T) {
	s, requests := newTestScanner(t, serveBody(devlistBody))

	ctx := context.Background()
	first := s.ScanDevices(ctx)
	for i := 0; i < 5; i++ {
		again := s.ScanDevices(ctx)
		if len(again) != len(first) || again[0] != first[0] {
			t.Fatalf("ScanDevices() changed within freshness window: %v vs %v", again, first)
		}
	}
	if n := requests.Load(); n != 1 {
		t.Fatalf("router saw %d requests, want 1 (construction poll only)", n)
	}
}

func TestConcurrentScansIssueSingleFetch(t *testing.T) {
	s, requests := newTestScanner(t, serveBody(devlistBody))
	forceStale(s)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			macs := s.ScanDevices(context.Background())
			if len(macs) != 1 {
				t.Errorf("ScanDevices() = %v, want one device", macs)
			}
		}()
	}
	wg.Wait()

	// One construction poll plus exactly one refetch after staleness.
	if n := requests.Load(); n != 2 {
		t.Fatalf("router saw %d requests, want 2", n)
	}
}

func TestDeviceNameFirstMatchWins(t *testing.T) {
	body := "dhcpd_lease = [['First','192.168.1.5','AA:BB:CC:DD:EE:FF','20:00:00']," +
		"['Second','192.168.1.6','AA:BB:CC:DD:EE:FF','21:00:00']];\n"
	s, _ := newTestScanner(t, serveBody(body))

	name, ok := s.DeviceName(context.Background(), "AA:BB:CC:DD:EE:FF")
	if !ok || name != "First" {
		t.Fatalf("DeviceName() = %q, %v, want First, true", name, ok)
	}
}

func TestDeviceNameEmptyNameIsAbsent(t *testing.T) {
	body := "dhcpd_lease = [['','192.168.1.5','AA:BB:CC:DD:EE:FF','20:00:00']," +
		"['Named','192.168.1.6','AA:BB:CC:DD:EE:FF','21:00:00']];\n"
	s, _ := newTestScanner(t, serveBody(body))

	if name, ok := s.DeviceName(context.Background(), "AA:BB:CC:DD:EE:FF"); ok {
		t.Fatalf("DeviceName() = %q, true, want absent for empty first-match name", name)
	}
}

func TestDeviceNameUnknownIdentifier(t *testing.T) {
	s, _ := newTestScanner(t, serveBody(devlistBody))

	if name, ok := s.DeviceName(context.Background(), "11:22:33:44:55:66"); ok {
		t.Fatalf("DeviceName() = %q, true, want absent", name)
	}
}

func TestDeviceNameDoesNotPollWhenSnapshotExists(t *testing.T) {
	s, requests := newTestScanner(t, serveBody(devlistBody))
	forceStale(s)

	if _, ok := s.DeviceName(context.Background(), "AA:BB:CC:DD:EE:FF"); !ok {
		t.Fatal("DeviceName() absent, want present from cached snapshot")
	}
	if n := requests.Load(); n != 1 {
		t.Fatalf("router saw %d requests, want 1; DeviceName must not refetch a stale snapshot", n)
	}
}

func TestAuthFailureKeepsSnapshot(t *testing.T) {
	var fail atomic.Bool
	s, _ := newTestScanner(t, func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, devlistBody)
	})

	fail.Store(true)
	forceStale(s)

	// Captured after the rewind so the assertion sees exactly the
	// timestamp a failed poll must leave alone.
	before, ok := s.LastScan()
	if !ok {
		t.Fatal("LastScan() absent after successful construction poll")
	}

	ctx := context.Background()
	if s.Poll(ctx) {
		t.Fatal("Poll() = true, want false on 401")
	}
	macs := s.ScanDevices(ctx)
	if len(macs) != 1 || macs[0] != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("ScanDevices() = %v after auth failure, want prior cached list", macs)
	}
	if after, _ := s.LastScan(); !after.Equal(before) {
		t.Fatalf("LastScan() advanced on auth failure: %v -> %v", before, after)
	}
}

func TestParseFailureKeepsSnapshot(t *testing.T) {
	var fail atomic.Bool
	s, _ := newTestScanner(t, func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			_, _ = io.WriteString(w, "wldev = [['broken';\n")
			return
		}
		_, _ = io.WriteString(w, devlistBody)
	})

	fail.Store(true)
	forceStale(s)

	ctx := context.Background()
	if s.Poll(ctx) {
		t.Fatal("Poll() = true, want false on unparseable body")
	}
	if macs := s.ScanDevices(ctx); len(macs) != 1 {
		t.Fatalf("ScanDevices() = %v after parse failure, want prior cached list", macs)
	}
}

func TestUnexpectedStatusIsConnectionFailure(t *testing.T) {
	var fail atomic.Bool
	s, _ := newTestScanner(t, func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, devlistBody)
	})

	fail.Store(true)
	forceStale(s)

	if s.Poll(context.Background()) {
		t.Fatal("Poll() = true, want false on unexpected status")
	}
	if macs := s.ScanDevices(context.Background()); len(macs) != 1 {
		t.Fatalf("ScanDevices() = %v after unexpected status, want prior cached list", macs)
	}
}

func TestSuccessInitFalseWhenRouterUnreachable(t *testing.T) {
	ts := httptest.NewServer(serveBody(devlistBody))
	host := strings.TrimPrefix(ts.URL, "http://")
	ts.Close()

	s := New(testConfig(host), testLogger())
	if s.SuccessInit() {
		t.Fatal("SuccessInit() = true, want false for unreachable router")
	}
	if macs := s.ScanDevices(context.Background()); len(macs) != 0 {
		t.Fatalf("ScanDevices() = %v, want empty before any successful poll", macs)
	}
	if _, ok := s.LastScan(); ok {
		t.Fatal("LastScan() present, want absent before any successful poll")
	}
}

func TestSnapshotReplacedWholesale(t *testing.T) {
	var second atomic.Bool
	s, _ := newTestScanner(t, func(w http.ResponseWriter, _ *http.Request) {
		if second.Load() {
			// Second response drops the lease table entirely.
			_, _ = io.WriteString(w, "wldev = [['eth1','11:22:33:44:55:66','1']];\n")
			return
		}
		_, _ = io.WriteString(w, devlistBody)
	})

	second.Store(true)
	forceStale(s)

	ctx := context.Background()
	macs := s.ScanDevices(ctx)
	if len(macs) != 1 || macs[0] != "11:22:33:44:55:66" {
		t.Fatalf("ScanDevices() = %v, want new wireless list", macs)
	}
	// The old lease rows must not leak into the new snapshot.
	if name, ok := s.DeviceName(ctx, "AA:BB:CC:DD:EE:FF"); ok {
		t.Fatalf("DeviceName() = %q, true, want absent after wholesale replacement", name)
	}
	snap := s.Snapshot()
	if snap.Wireless == nil || snap.Leases == nil {
		t.Fatal("snapshot tables must both be non-nil")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransportError(t *testing.T) {
	if got := classifyTransportError(context.DeadlineExceeded); got != pollTimeoutFailure {
		t.Fatalf("classifyTransportError(deadline) = %v, want timeout", got)
	}
	if got := classifyTransportError(timeoutErr{}); got != pollTimeoutFailure {
		t.Fatalf("classifyTransportError(net timeout) = %v, want timeout", got)
	}
	if got := classifyTransportError(io.ErrUnexpectedEOF); got != pollConnectionFailure {
		t.Fatalf("classifyTransportError(eof) = %v, want connection", got)
	}
}
