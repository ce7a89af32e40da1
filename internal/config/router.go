package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/micro-ha/tomato-presence/addon/internal/model"
)

// routerOptions mirrors the addon options file written by the supervisor.
type routerOptions struct {
	Host            string `json:"host"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	HTTPID          string `json:"http_id"`
	PollIntervalSec int    `json:"poll_interval_sec"`
}

// LoadRouter reads the router connection settings from the addon options
// file, falling back to ROUTER_* environment variables when the file is
// missing. The returned config is validated: every required key (host,
// username, password, http_id) must be present, otherwise an error is
// returned and no scanner should be constructed.
func LoadRouter(optionsPath string) (model.RouterConfig, error) {
	opts, err := readOptionsFile(optionsPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return model.RouterConfig{}, err
		}
		opts = optionsFromEnv()
	}

	cfg := model.RouterConfig{
		Host:            strings.TrimSpace(opts.Host),
		Username:        strings.TrimSpace(opts.Username),
		Password:        opts.Password,
		HTTPID:          strings.TrimSpace(opts.HTTPID),
		PollIntervalSec: opts.PollIntervalSec,
	}
	if err := cfg.Validate(); err != nil {
		return model.RouterConfig{}, err
	}
	return cfg, nil
}

func readOptionsFile(path string) (routerOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return routerOptions{}, err
	}
	var opts routerOptions
	if err := json.Unmarshal(data, &opts); err != nil {
		return routerOptions{}, fmt.Errorf("parse options file %s: %w", path, err)
	}
	return opts, nil
}

func optionsFromEnv() routerOptions {
	interval := 0
	if raw, ok := os.LookupEnv("ROUTER_POLL_INTERVAL_SEC"); ok {
		if value, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			interval = value
		}
	}
	return routerOptions{
		Host:            os.Getenv("ROUTER_HOST"),
		Username:        os.Getenv("ROUTER_USERNAME"),
		Password:        os.Getenv("ROUTER_PASSWORD"),
		HTTPID:          os.Getenv("ROUTER_HTTP_ID"),
		PollIntervalSec: interval,
	}
}
