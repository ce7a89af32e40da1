package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/micro-ha/tomato-presence/addon/internal/events"
	"github.com/micro-ha/tomato-presence/addon/internal/model"
	"github.com/micro-ha/tomato-presence/addon/internal/storage"
	"github.com/micro-ha/tomato-presence/addon/internal/tomato"
)

// ErrScanFailed reports that the last poll attempt against the router did
// not produce fresh data; cached views remain available.
var ErrScanFailed = errors.New("router scan failed")

// DeviceScanner is the slice of the Tomato scanner the service needs.
type DeviceScanner interface {
	Poll(ctx context.Context) bool
	Snapshot() *model.Snapshot
	LastScan() (time.Time, bool)
}

// EventSink receives presence transition events.
type EventSink interface {
	Broadcast(events.Event)
}

type Service struct {
	repo    *storage.Repository
	scanner DeviceScanner
	sink    EventSink
	logger  *slog.Logger

	mu         sync.Mutex
	lastOnline map[string]bool
}

func New(repo *storage.Repository, scanner DeviceScanner, sink EventSink, logger *slog.Logger) *Service {
	return &Service{repo: repo, scanner: scanner, sink: sink, logger: logger, lastOnline: map[string]bool{}}
}

type ListFilter struct {
	Status string
	Online *bool
	Query  string
}

type Status struct {
	Initialized bool       `json:"initialized"`
	LastScanAt  *time.Time `json:"last_scan_at,omitempty"`
}

// PollOnce drives one scan cycle and publishes presence transitions for
// every device that appeared or disappeared since the previous cycle.
func (s *Service) PollOnce(ctx context.Context) error {
	ok := s.scanner.Poll(ctx)
	if !ok {
		return ErrScanFailed
	}

	views, err := s.ListDevices(ctx, ListFilter{})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	current := map[string]bool{}
	for _, view := range views {
		if view.Online {
			current[view.MAC] = true
		}
	}

	s.mu.Lock()
	previous := s.lastOnline
	s.lastOnline = current
	s.mu.Unlock()

	covered := map[string]bool{}
	for _, view := range views {
		covered[view.MAC] = true
		was := previous[view.MAC]
		if view.Online == was {
			continue
		}
		s.publish(view.MAC, view.Name, view.Online, now)
	}
	// Unregistered devices that vanished from the snapshot no longer have
	// a view; they still owe an offline event.
	for mac, was := range previous {
		if was && !covered[mac] {
			s.publish(mac, generatedName(mac), false, now)
		}
	}
	return nil
}

func (s *Service) publish(mac, name string, online bool, at time.Time) {
	s.logger.Info("presence changed", "mac", mac, "name", name, "online", online)
	if s.sink != nil {
		s.sink.Broadcast(events.Event{
			Type:   events.TypePresence,
			MAC:    mac,
			Name:   name,
			Online: online,
			At:     at,
		})
	}
}

// ListDevices merges the current router snapshot with the registry into
// sorted device views.
func (s *Service) ListDevices(ctx context.Context, filter ListFilter) ([]model.DeviceView, error) {
	registered, err := s.repo.ListRegistered(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := s.scanner.Snapshot()

	items := mergeViews(snapshot, registered)
	filtered := filterViews(items, filter)
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Online != filtered[j].Online {
			return filtered[i].Online
		}
		if filtered[i].Status != filtered[j].Status {
			return filtered[i].Status < filtered[j].Status
		}
		return filtered[i].Name < filtered[j].Name
	})
	return filtered, nil
}

func (s *Service) GetDevice(ctx context.Context, mac string) (model.DeviceView, error) {
	items, err := s.ListDevices(ctx, ListFilter{})
	if err != nil {
		return model.DeviceView{}, err
	}
	want := tomato.CanonicalMAC(mac)
	for _, item := range items {
		if item.MAC == want {
			return item, nil
		}
	}
	return model.DeviceView{}, storage.ErrNotFound
}

type RegisterInput struct {
	Name    *string `json:"name"`
	Icon    *string `json:"icon"`
	Comment *string `json:"comment"`
}

func (s *Service) RegisterDevice(ctx context.Context, mac string, in RegisterInput) error {
	return s.repo.UpsertRegistered(ctx, tomato.CanonicalMAC(mac), in.Name, in.Icon, in.Comment)
}

func (s *Service) PatchDevice(ctx context.Context, mac string, in RegisterInput) error {
	return s.repo.PatchRegistered(ctx, tomato.CanonicalMAC(mac), in.Name, in.Icon, in.Comment)
}

func (s *Service) UnregisterDevice(ctx context.Context, mac string) error {
	return s.repo.DeleteRegistered(ctx, tomato.CanonicalMAC(mac))
}

func (s *Service) Status() Status {
	last, ok := s.scanner.LastScan()
	status := Status{Initialized: ok}
	if ok {
		at := last.UTC()
		status.LastScanAt = &at
	}
	return status
}

func mergeViews(snapshot *model.Snapshot, registered map[string]model.DeviceRegistered) []model.DeviceView {
	leases := map[string]model.DHCPLease{}
	for _, lease := range snapshot.Leases {
		mac := tomato.CanonicalMAC(lease.MAC)
		// First lease wins for duplicate identifiers.
		if _, ok := leases[mac]; !ok {
			leases[mac] = lease
		}
	}

	var seenAt *time.Time
	if !snapshot.FetchedAt.IsZero() {
		at := snapshot.FetchedAt
		seenAt = &at
	}

	views := map[string]model.DeviceView{}
	order := []string{}

	for _, dev := range snapshot.Wireless {
		mac := tomato.CanonicalMAC(dev.MAC)
		if _, ok := views[mac]; ok {
			continue
		}
		view := model.DeviceView{MAC: mac, Online: true, LastSeenAt: seenAt}
		if dev.Interface != "" {
			iface := dev.Interface
			view.Interface = &iface
		}
		views[mac] = view
		order = append(order, mac)
	}

	for mac := range registered {
		if _, ok := views[mac]; !ok {
			views[mac] = model.DeviceView{MAC: mac}
			order = append(order, mac)
		}
	}

	result := make([]model.DeviceView, 0, len(order))
	for _, mac := range order {
		view := views[mac]
		if lease, ok := leases[mac]; ok {
			if lease.HostName != "" {
				host := lease.HostName
				view.HostName = &host
			}
			if lease.IP != "" {
				ip := lease.IP
				view.LastIP = &ip
			}
		}

		view.Status = "new"
		if reg, ok := registered[mac]; ok {
			view.Status = "registered"
			view.Icon = reg.Icon
			view.Comment = reg.Comment
			if reg.Name != nil && *reg.Name != "" {
				view.Name = *reg.Name
			}
		}
		if view.Name == "" && view.HostName != nil {
			view.Name = *view.HostName
		}
		if view.Name == "" {
			view.Name = generatedName(mac)
		}
		result = append(result, view)
	}
	return result
}

// generatedName derives a stable placeholder name from the identifier.
func generatedName(mac string) string {
	suffix := strings.ReplaceAll(mac, ":", "")
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return fmt.Sprintf("Device-%s", suffix)
}

func filterViews(items []model.DeviceView, filter ListFilter) []model.DeviceView {
	status := strings.ToLower(strings.TrimSpace(filter.Status))
	query := strings.ToLower(strings.TrimSpace(filter.Query))

	result := make([]model.DeviceView, 0, len(items))
	for _, item := range items {
		if status == "new" && item.Status != "new" {
			continue
		}
		if status == "registered" && item.Status != "registered" {
			continue
		}
		if filter.Online != nil && item.Online != *filter.Online {
			continue
		}
		if query != "" && !matchesQuery(item, query) {
			continue
		}
		result = append(result, item)
	}
	return result
}

func matchesQuery(item model.DeviceView, query string) bool {
	if strings.Contains(strings.ToLower(item.Name), query) {
		return true
	}
	if strings.Contains(strings.ToLower(item.MAC), query) {
		return true
	}
	if item.HostName != nil && strings.Contains(strings.ToLower(*item.HostName), query) {
		return true
	}
	if item.LastIP != nil && strings.Contains(strings.ToLower(*item.LastIP), query) {
		return true
	}
	return false
}
