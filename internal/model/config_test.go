package model

import (
	"strings"
	"testing"
	"time"
)

func TestEndpointURLPlainHost(t *testing.T) {
	cfg := RouterConfig{Host: "192.168.1.1"}
	if got := cfg.EndpointURL(); got != "http://192.168.1.1/update.cgi" {
		t.Fatalf("EndpointURL() = %q, want %q", got, "http://192.168.1.1/update.cgi")
	}
}

func TestEndpointURLStripsSchemeAndSlash(t *testing.T) {
	cfg := RouterConfig{Host: "https://router.lan/"}
	if got := cfg.EndpointURL(); got != "http://router.lan/update.cgi" {
		t.Fatalf("EndpointURL() = %q, want %q", got, "http://router.lan/update.cgi")
	}
}

func TestEndpointURLKeepsPort(t *testing.T) {
	cfg := RouterConfig{Host: "192.168.1.1:8080"}
	if got := cfg.EndpointURL(); got != "http://192.168.1.1:8080/update.cgi" {
		t.Fatalf("EndpointURL() = %q, want %q", got, "http://192.168.1.1:8080/update.cgi")
	}
}

func TestPollIntervalEnforcesFloor(t *testing.T) {
	cfg := RouterConfig{PollIntervalSec: 2}
	if got := cfg.PollInterval(); got != 5*time.Second {
		t.Fatalf("PollInterval() = %v, want %v", got, 5*time.Second)
	}
	cfg.PollIntervalSec = 30
	if got := cfg.PollInterval(); got != 30*time.Second {
		t.Fatalf("PollInterval() = %v, want %v", got, 30*time.Second)
	}
}

func TestValidateReportsAllMissingKeys(t *testing.T) {
	err := RouterConfig{Username: "admin"}.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want non-nil")
	}
	for _, key := range []string{"host", "password", "http_id"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("Validate() error %q does not mention %q", err, key)
		}
	}
	if strings.Contains(err.Error(), "username") {
		t.Fatalf("Validate() error %q mentions present key username", err)
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := RouterConfig{Host: "192.168.1.1", Username: "admin", Password: "secret", HTTPID: "TID0123"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}
