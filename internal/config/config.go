// Package config loads and watches the YAML configuration file. YAML is
// coerced to JSON so one strict decoder covers both formats.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Load reads, strictly decodes, and validates the file at path.
// Unknown keys are an error; a missing token is filled from TELEGRAM_TOKEN.
func Load(path string) (*Root, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(path, data)
}

func parse(path string, data []byte) (*Root, error) {
	j, format, err := toStrictJSON(path, data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(j))
	dec.DisallowUnknownFields()
	var root Root
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%s config: %w", format, err)
	}
	if root.Telegram.Token == "" {
		root.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	}
	if err := root.validate(); err != nil {
		return nil, err
	}
	return &root, nil
}

func (r *Root) validate() error {
	if strings.TrimSpace(r.Telegram.Token) == "" {
		return errors.New("telegram.token is required (file or TELEGRAM_TOKEN)")
	}
	if strings.TrimSpace(r.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	if r.Broadcast.AlertThreshold < 0 || r.Broadcast.AlertThreshold > 1 {
		return errors.New("broadcast.alert_threshold must be in [0, 1]")
	}
	// Durations are parsed eagerly so a typo fails at load, not at use.
	for _, f := range []struct{ path, raw string }{
		{"storage.busy_timeout", r.Storage.BusyTimeout},
		{"telegram.poll_timeout", r.Telegram.PollTimeout},
		{"planner.stagger", r.Planner.Stagger},
		{"poller.tick", r.Poller.Tick},
		{"poller.item_pause", r.Poller.ItemPause},
		{"poller.retention", r.Poller.Retention},
		{"broadcast.group_pause_min", r.Broadcast.GroupPauseMin},
		{"broadcast.group_pause_max", r.Broadcast.GroupPauseMax},
		{"broadcast.retry_base", r.Broadcast.RetryBase},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	pauseMin, _ := ParseDurationField("broadcast.group_pause_min", r.Broadcast.GroupPauseMin)
	pauseMax, _ := ParseDurationField("broadcast.group_pause_max", r.Broadcast.GroupPauseMax)
	if pauseMin > 0 && pauseMax > 0 && pauseMax <= pauseMin {
		return errors.New("broadcast.group_pause_max must exceed broadcast.group_pause_min")
	}
	return nil
}

// Location resolves the display zone, defaulting to UTC.
func (r *Root) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseDurationField parses an optional duration string; empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault parses raw, substituting def when unset.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
