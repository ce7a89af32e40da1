package tomato

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/micro-ha/tomato-presence/addon/internal/model"
)

const (
	// Cached results are served for scans within this window.
	minTimeBetweenScans = 5 * time.Second
	requestTimeout      = 3 * time.Second
)

type pollStatus int

const (
	pollSuccess pollStatus = iota
	pollAuthFailure
	pollConnectionFailure
	pollTimeoutFailure
	pollParseFailure
)

func (s pollStatus) String() string {
	switch s {
	case pollSuccess:
		return "success"
	case pollAuthFailure:
		return "auth_failure"
	case pollConnectionFailure:
		return "connection_failure"
	case pollTimeoutFailure:
		return "timeout_failure"
	case pollParseFailure:
		return "parse_failure"
	default:
		return "unknown"
	}
}

// Scanner queries a router running Tomato firmware for connected devices
// through its update.cgi endpoint. Results are cached and refreshed at
// most once per freshness window; all network failures are absorbed and
// surface only as stale-or-empty data. Safe for concurrent use.
type Scanner struct {
	client   *http.Client
	endpoint string
	form     url.Values
	username string
	password string
	logger   *slog.Logger

	// mu spans the whole check-then-fetch-then-swap sequence so that
	// concurrent callers never race into duplicate fetches.
	mu          sync.Mutex
	snapshot    *model.Snapshot
	lastUpdated time.Time
	successInit bool
}

// New builds a scanner from an already validated config and performs one
// immediate poll. Construction never fails on network error; SuccessInit
// reports the outcome of that first poll.
func New(cfg model.RouterConfig, logger *slog.Logger) *Scanner {
	s := &Scanner{
		client:   &http.Client{Timeout: requestTimeout},
		endpoint: cfg.EndpointURL(),
		form: url.Values{
			"_http_id": {cfg.HTTPID},
			"exec":     {"devlist"},
		},
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger,
		snapshot: &model.Snapshot{Wireless: []model.WirelessDevice{}, Leases: []model.DHCPLease{}},
	}
	s.successInit = s.Poll(context.Background())
	return s
}

// SuccessInit reports whether the poll issued during construction succeeded.
func (s *Scanner) SuccessInit() bool {
	return s.successInit
}

// Poll refreshes the cached snapshot if it is stale and reports whether
// fresh data is available. Within the freshness window it is a no-op that
// reports true.
func (s *Scanner) Poll(ctx context.Context) bool {
	_, ok := s.refresh(ctx, false)
	return ok
}

// ScanDevices polls if needed and returns the MAC identifiers of the
// currently associated wireless devices in router order. The slice is
// empty until a poll has succeeded.
func (s *Scanner) ScanDevices(ctx context.Context) []string {
	snap, _ := s.refresh(ctx, false)
	macs := make([]string, 0, len(snap.Wireless))
	for _, dev := range snap.Wireless {
		macs = append(macs, dev.MAC)
	}
	return macs
}

// DeviceName returns the DHCP lease host name for the given identifier.
// It forces a poll only when no snapshot has ever been obtained. The
// second result is false when no snapshot exists, no lease matches, or
// the matching lease carries an empty name. When duplicate leases share
// an identifier the first one in router order wins.
func (s *Scanner) DeviceName(ctx context.Context, mac string) (string, bool) {
	snap, _ := s.refresh(ctx, true)
	want := CanonicalMAC(mac)
	for _, lease := range snap.Leases {
		if CanonicalMAC(lease.MAC) != want {
			continue
		}
		if lease.HostName == "" {
			return "", false
		}
		return lease.HostName, true
	}
	return "", false
}

// Snapshot returns the current cached snapshot. The returned value is
// immutable and may be read without further locking.
func (s *Scanner) Snapshot() *model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// LastScan returns the time of the last successful poll, or false if no
// poll has ever succeeded.
func (s *Scanner) LastScan() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated, !s.lastUpdated.IsZero()
}

// refresh serializes concurrent callers, fetches when the snapshot is
// stale and returns the snapshot current after the attempt. With
// onlyIfNever set a fetch happens solely when no poll has ever succeeded,
// which is the DeviceName path.
func (s *Scanner) refresh(ctx context.Context, onlyIfNever bool) (*model.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := !s.lastUpdated.IsZero() && time.Since(s.lastUpdated) <= minTimeBetweenScans
	if fresh || (onlyIfNever && !s.lastUpdated.IsZero()) {
		return s.snapshot, true
	}

	s.logger.Debug("scanning router", "endpoint", s.endpoint)

	snap, status := s.fetch(ctx)
	if status != pollSuccess {
		s.logger.Warn("router scan failed", "status", status.String())
		return s.snapshot, false
	}

	s.snapshot = snap
	s.lastUpdated = time.Now()
	return s.snapshot, true
}

func (s *Scanner) fetch(ctx context.Context) (*model.Snapshot, pollStatus) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(s.form.Encode()))
	if err != nil {
		return nil, pollConnectionFailure
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.username, s.password)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		// Credentials rejected; the cached snapshot stays untouched.
		return nil, pollAuthFailure
	default:
		// The firmware is not expected to answer anything else; treat
		// it like an unreachable router.
		return nil, pollConnectionFailure
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	snap, err := parseDevlist(string(body))
	if err != nil {
		return nil, pollParseFailure
	}
	snap.FetchedAt = time.Now().UTC()
	return snap, pollSuccess
}

// classifyTransportError separates a timed-out request from the router
// being unreachable or rejecting an invalid http_id.
func classifyTransportError(err error) pollStatus {
	if errors.Is(err, context.DeadlineExceeded) {
		return pollTimeoutFailure
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return pollTimeoutFailure
	}
	return pollConnectionFailure
}

// CanonicalMAC normalizes a device identifier for comparison.
func CanonicalMAC(v string) string {
	v = strings.TrimSpace(strings.ToUpper(v))
	return strings.ReplaceAll(v, "-", ":")
}
