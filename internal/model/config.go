package model

import (
	"fmt"
	"strings"
	"time"
)

// RouterConfig holds the connection parameters for a Tomato router.
// It is built once by the config loader and never mutated afterwards.
type RouterConfig struct {
	Host            string `json:"host"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	HTTPID          string `json:"http_id"`
	PollIntervalSec int    `json:"poll_interval_sec"`
}

func (c RouterConfig) PollInterval() time.Duration {
	interval := time.Duration(c.PollIntervalSec) * time.Second
	if interval < 5*time.Second {
		return 5 * time.Second
	}
	return interval
}

// EndpointURL returns the update.cgi URL for the configured host. The
// Tomato admin interface speaks plain HTTP; a scheme prefix in the host
// value is stripped rather than honored.
func (c RouterConfig) EndpointURL() string {
	host := strings.TrimSpace(c.Host)
	host = strings.TrimPrefix(strings.TrimPrefix(host, "http://"), "https://")
	host = strings.Trim(host, "/")
	return "http://" + host + "/update.cgi"
}

// Validate reports the configuration keys that must be present before a
// scanner may be constructed.
func (c RouterConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(c.Password) == "" {
		missing = append(missing, "password")
	}
	if strings.TrimSpace(c.HTTPID) == "" {
		missing = append(missing, "http_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
	}
	return nil
}
