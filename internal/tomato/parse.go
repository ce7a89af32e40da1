package tomato

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/micro-ha/tomato-presence/addon/internal/model"
)

const (
	fieldWireless = "wldev"
	fieldLeases   = "dhcpd_lease"
)

// The devlist response is a sequence of `name = value;` assignments where
// the interesting values are JSON-like arrays delimited with single quotes.
var assignPattern = regexp.MustCompile(`(\w+) = (.*);`)

// parseDevlist extracts the wireless and DHCP lease tables from a devlist
// response body. Fields absent from the body come back empty so a parsed
// snapshot always carries both tables.
func parseDevlist(body string) (*model.Snapshot, error) {
	snap := &model.Snapshot{
		Wireless: []model.WirelessDevice{},
		Leases:   []model.DHCPLease{},
	}

	for _, match := range assignPattern.FindAllStringSubmatch(body, -1) {
		name, value := match[1], match[2]
		switch name {
		case fieldWireless:
			rows, err := decodeRows(value)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", name, err)
			}
			for _, row := range rows {
				snap.Wireless = append(snap.Wireless, model.WirelessDevice{
					Interface: cell(row, 0),
					MAC:       cell(row, 1),
				})
			}
		case fieldLeases:
			rows, err := decodeRows(value)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", name, err)
			}
			for _, row := range rows {
				snap.Leases = append(snap.Leases, model.DHCPLease{
					HostName: cell(row, 0),
					IP:       cell(row, 1),
					MAC:      cell(row, 2),
					Expires:  cell(row, 3),
				})
			}
		}
	}
	return snap, nil
}

// decodeRows turns a single-quoted pseudo-JSON array-of-arrays into rows.
// Values that already use double quotes decode unchanged.
func decodeRows(value string) ([][]any, error) {
	normalized := strings.ReplaceAll(value, "'", `"`)
	var rows [][]any
	if err := json.Unmarshal([]byte(normalized), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// cell reads one positional column as a string. Tomato mixes strings and
// numbers in the same row, so numeric cells are formatted rather than
// rejected.
func cell(row []any, idx int) string {
	if idx >= len(row) {
		return ""
	}
	switch v := row[idx].(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
