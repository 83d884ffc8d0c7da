package config

import (
	"os"
	"strings"
	"time"

	"github.com/triagewatch/triagewatch/internal/errors"
	"gopkg.in/yaml.v3"
)

// WatchConfig is the parsed triagewatch.yml watch file. It carries the
// monitored component list, the check schedule, the upstream service
// endpoints and the digest priority rules.
type WatchConfig struct {
	Components []string       `yaml:"components"`
	Schedule   ScheduleConfig `yaml:"schedule"`
	Services   ServicesConfig `yaml:"services"`
	Auth       AuthConfig     `yaml:"auth"`
	Rules      []RuleConfig   `yaml:"rules"`
}

// ScheduleConfig holds the daily check and weekly digest slots
type ScheduleConfig struct {
	CheckTime  string `yaml:"checkTime"`  // "HH:MM", 24h
	DigestDay  string `yaml:"digestDay"`  // weekday name, e.g. "Monday"
	DigestTime string `yaml:"digestTime"` // "HH:MM", 24h
}

// ServicesConfig holds the upstream defect service endpoints
type ServicesConfig struct {
	BuildBreakURL   string `yaml:"buildBreakURL"`   // base URL of the build-break report service
	JazzURL         string `yaml:"jazzURL"`         // base URL of the OSLC work-item service
	SavedQueryID    string `yaml:"savedQueryID"`    // OSLC saved query for overdue triage items
	WorkItemLinkURL string `yaml:"workItemLinkURL"` // template for human-facing defect links, id appended
}

// AuthConfig holds the identity-provider surface endpoints
type AuthConfig struct {
	LoginURL  string `yaml:"loginURL"`  // identity-provider login page
	TargetURL string `yaml:"targetURL"` // application URL an authenticated session lands on
}

// RuleConfig is one digest priority rule: a CEL expression over the weekly
// aggregate plus the text to emit when it fires.
type RuleConfig struct {
	Name        string `yaml:"name"`
	Expression  string `yaml:"expression"`
	Description string `yaml:"description"`
}

// ParseWatchFile reads and parses a triagewatch.yml watch file
func ParseWatchFile(path string) (*WatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewTransientf("failed to read watch file: %w", err)
	}

	var config WatchConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewPermanentf("failed to parse watch file YAML: %w", err)
	}

	return &config, nil
}

// ComponentNames returns the monitored components with whitespace trimmed
// and empty entries dropped, preserving order. Entries may themselves be
// comma-delimited, matching the original settings form input.
func (c *WatchConfig) ComponentNames() []string {
	var names []string
	for _, entry := range c.Components {
		for _, name := range strings.Split(entry, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// CheckClock parses the daily check time, defaulting to 10:00
func (c *WatchConfig) CheckClock() (hour, minute int, err error) {
	return parseClock(c.Schedule.CheckTime, 10, 0)
}

// DigestClock parses the weekly digest time, defaulting to 11:00
func (c *WatchConfig) DigestClock() (hour, minute int, err error) {
	return parseClock(c.Schedule.DigestTime, 11, 0)
}

// DigestWeekday parses the digest weekday, defaulting to Monday
func (c *WatchConfig) DigestWeekday() (time.Weekday, error) {
	if c.Schedule.DigestDay == "" {
		return time.Monday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.Schedule.DigestDay) {
			return d, nil
		}
	}
	return time.Monday, errors.NewPermanentf("invalid digest day: %s", c.Schedule.DigestDay)
}

// Validate checks the watch file for the invariants fetch cycles rely on
func (c *WatchConfig) Validate() error {
	if len(c.ComponentNames()) == 0 {
		return errors.NewPermanentf("at least one monitored component is required")
	}
	if c.Services.BuildBreakURL == "" {
		return errors.NewPermanentf("services.buildBreakURL is required")
	}
	if _, _, err := c.CheckClock(); err != nil {
		return err
	}
	if _, _, err := c.DigestClock(); err != nil {
		return err
	}
	if _, err := c.DigestWeekday(); err != nil {
		return err
	}
	return nil
}

// parseClock parses "HH:MM" in 24h form
func parseClock(value string, defaultHour, defaultMinute int) (int, int, error) {
	if value == "" {
		return defaultHour, defaultMinute, nil
	}
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, 0, errors.NewPermanentf("invalid time format (want HH:MM): %s", value)
	}
	hour, err := parseClockPart(parts[0], 23)
	if err != nil {
		return 0, 0, errors.NewPermanentf("invalid hour in %q", value)
	}
	minute, err := parseClockPart(parts[1], 59)
	if err != nil {
		return 0, 0, errors.NewPermanentf("invalid minute in %q", value)
	}
	return hour, minute, nil
}

func parseClockPart(s string, max int) (int, error) {
	if len(s) == 0 || len(s) > 2 {
		return 0, errors.ErrInvalidInput
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.ErrInvalidInput
		}
		n = n*10 + int(r-'0')
	}
	if n > max {
		return 0, errors.ErrInvalidInput
	}
	return n, nil
}
