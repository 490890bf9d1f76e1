package config

// Config is the full on-disk configuration. JSON and YAML files are both
// accepted; YAML is coerced to JSON before strict decoding so unknown keys
// are rejected in either format.
//
// All durations are Go duration strings (e.g. "500ms", "30m", "700s").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Visa     VisaConfig     `json:"visa"`
	Poll     PollConfig     `json:"poll"`
	Notify   NotifyConfig   `json:"notify"`

	// Rebook enables automatic rescheduling when a qualifying earlier slot
	// appears. Omitted means notify-only.
	Rebook *RebookConfig `json:"rebook,omitempty"`

	// Storage enables subscriber persistence across restarts. Omitted means
	// in-memory only.
	Storage *StorageConfig `json:"storage,omitempty"`

	Digest *DigestConfig `json:"digest,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminChatID receives periodic status reports and the daily digest.
	AdminChatID int64 `json:"admin_chat_id"`
	// PollTimeout is the bot long-poll timeout (e.g. "10s").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// VisaConfig holds booking-system credentials and identifiers.
type VisaConfig struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	ScheduleID string `json:"schedule_id"`
	FacilityID string `json:"facility_id"`
	// CountryCode is the locale path segment, e.g. "en-ca".
	CountryCode string `json:"country_code,omitempty"`
	// VisaType defaults to "niv".
	VisaType string `json:"visa_type,omitempty"`
	// Timeout bounds each HTTP request.
	Timeout string `json:"timeout,omitempty"`
}

// PollConfig tunes the check loop.
//
// Defaults (when fields are omitted/zero):
//   - interval: "700s"
//   - jitter_fraction: 0.1485
//   - session_expiry: "30m"
//   - status_every: 10
//   - horizon_days: [180, 300]
//   - known_dates_cap: 10
type PollConfig struct {
	Interval       string  `json:"interval,omitempty"`
	JitterFraction float64 `json:"jitter_fraction,omitempty"`
	SessionExpiry  string  `json:"session_expiry,omitempty"`
	StatusEvery    int     `json:"status_every,omitempty"`
	HorizonDays    []int   `json:"horizon_days,omitempty"`
	KnownDatesCap  int     `json:"known_dates_cap,omitempty"`
}

// NotifyConfig tunes outbound delivery.
type NotifyConfig struct {
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	Cooldown        string `json:"cooldown,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	MaxSubscribers  int    `json:"max_subscribers,omitempty"`
}

type RebookConfig struct {
	Enabled bool `json:"enabled"`
	// CurrentAppointment is the currently booked date ("2006-01-02"); only
	// strictly earlier slots qualify.
	CurrentAppointment string `json:"current_appointment"`
	// MinLeadDays rejects slots too close to act on. Default 5.
	MinLeadDays int `json:"min_lead_days,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"` // "none" | "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type DigestConfig struct {
	Enabled bool `json:"enabled"`
	// Spec is a cron expression; default "0 9 * * *".
	Spec     string `json:"spec,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}
