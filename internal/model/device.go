package model

import "time"

// WirelessDevice is one row of the router's wldev table.
type WirelessDevice struct {
	Interface string `json:"interface"`
	MAC       string `json:"mac"`
}

// DHCPLease is one row of the router's dhcpd_lease table.
type DHCPLease struct {
	HostName string `json:"host_name"`
	IP       string `json:"ip"`
	MAC      string `json:"mac"`
	Expires  string `json:"expires"`
}

// Snapshot is the parsed result of one successful devlist poll. Both
// tables are always non-nil, possibly empty. A snapshot is never mutated
// after construction; the scanner swaps in a fresh one wholesale.
type Snapshot struct {
	Wireless  []WirelessDevice
	Leases    []DHCPLease
	FetchedAt time.Time
}

type DeviceRegistered struct {
	MAC       string    `json:"mac"`
	Name      *string   `json:"name,omitempty"`
	Icon      *string   `json:"icon,omitempty"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeviceView is the merged, caller-facing representation of one device.
type DeviceView struct {
	MAC        string     `json:"mac"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Online     bool       `json:"online"`
	Interface  *string    `json:"interface,omitempty"`
	HostName   *string    `json:"host_name,omitempty"`
	LastIP     *string    `json:"last_ip,omitempty"`
	Icon       *string    `json:"icon,omitempty"`
	Comment    *string    `json:"comment,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}
