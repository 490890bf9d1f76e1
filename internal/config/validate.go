package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses an optional duration field; empty means 0.
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

// ParseDurationOrDefault parses an optional duration field, falling back to
// def when omitted or zero.
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

// Validate checks required fields and value ranges. A config that fails
// validation is never committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Visa.Email) == "" {
		return fmt.Errorf("visa.email is required")
	}
	if strings.TrimSpace(cfg.Visa.Password) == "" {
		return fmt.Errorf("visa.password is required")
	}
	if strings.TrimSpace(cfg.Visa.ScheduleID) == "" {
		return fmt.Errorf("visa.schedule_id is required")
	}
	if strings.TrimSpace(cfg.Visa.FacilityID) == "" {
		return fmt.Errorf("visa.facility_id is required")
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"visa.timeout":          cfg.Visa.Timeout,
		"poll.interval":         cfg.Poll.Interval,
		"poll.session_expiry":   cfg.Poll.SessionExpiry,
		"notify.cooldown":       cfg.Notify.Cooldown,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	if f := cfg.Poll.JitterFraction; f != 0 && (f <= 0 || f >= 1) {
		return fmt.Errorf("poll.jitter_fraction must be in (0, 1)")
	}
	for _, d := range cfg.Poll.HorizonDays {
		if d <= 0 {
			return fmt.Errorf("poll.horizon_days entries must be > 0")
		}
	}

	if cfg.Rebook != nil && cfg.Rebook.Enabled {
		cur := strings.TrimSpace(cfg.Rebook.CurrentAppointment)
		if cur == "" {
			return fmt.Errorf("rebook.current_appointment is required when rebooking is enabled")
		}
		if _, err := time.Parse("2006-01-02", cur); err != nil {
			return fmt.Errorf("rebook.current_appointment: want YYYY-MM-DD: %w", err)
		}
	}

	if cfg.Storage != nil {
		switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
		case "", "none", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", d)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
