package config

import (
	"fmt"
	"strings"
	"time"

	_ "time/tzdata"

	"github.com/spf13/viper"
)

// LedgerSettings tunes the fee ledger, the reconciliation sweep and the
// event outbox.
type LedgerSettings struct {
	MaxRetries       int    `mapstructure:"LEDGER_MAX_RETRIES"`
	LockTTLSeconds   int    `mapstructure:"LEDGER_LOCK_TTL_SECONDS"`
	LockWaitMillis   int    `mapstructure:"LEDGER_LOCK_WAIT_MS"`
	SweepSchedule    string `mapstructure:"SWEEP_SCHEDULE"`
	SweepConcurrency int    `mapstructure:"SWEEP_CONCURRENCY"`
	EventBus         string `mapstructure:"EVENT_BUS"`
	SchoolTimezone   string `mapstructure:"SCHOOL_TIMEZONE"`
	OutboxPollMillis int    `mapstructure:"OUTBOX_POLL_MS"`
	Store            string `mapstructure:"STORE"`
}

const (
	EventBusPubSub   = "pubsub"
	EventBusRabbitMQ = "rabbitmq"
	EventBusLog      = "log"
)

// LoadLedgerSettings reads settings from environment variables.
func LoadLedgerSettings() (*LedgerSettings, error) {
	viper.SetDefault("LEDGER_MAX_RETRIES", 3)
	viper.SetDefault("LEDGER_LOCK_TTL_SECONDS", 30)
	viper.SetDefault("LEDGER_LOCK_WAIT_MS", 2000)
	viper.SetDefault("SWEEP_SCHEDULE", "30 1 * * *") // 01:30 every day
	viper.SetDefault("SWEEP_CONCURRENCY", 4)
	viper.SetDefault("EVENT_BUS", EventBusLog)
	viper.SetDefault("SCHOOL_TIMEZONE", "Asia/Kolkata")
	viper.SetDefault("OUTBOX_POLL_MS", 500)
	viper.SetDefault("STORE", "mysql")
	viper.AutomaticEnv()

	for _, key := range []string{
		"LEDGER_MAX_RETRIES", "LEDGER_LOCK_TTL_SECONDS", "LEDGER_LOCK_WAIT_MS",
		"SWEEP_SCHEDULE", "SWEEP_CONCURRENCY", "EVENT_BUS", "SCHOOL_TIMEZONE",
		"OUTBOX_POLL_MS", "STORE",
	} {
		_ = viper.BindEnv(key)
	}

	var settings LedgerSettings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, err
	}
	settings.EventBus = strings.ToLower(strings.TrimSpace(settings.EventBus))
	switch settings.EventBus {
	case EventBusPubSub, EventBusRabbitMQ, EventBusLog:
	default:
		return nil, fmt.Errorf("EVENT_BUS must be one of pubsub, rabbitmq, log; got %q", settings.EventBus)
	}
	if settings.MaxRetries < 1 {
		return nil, fmt.Errorf("LEDGER_MAX_RETRIES must be at least 1")
	}
	if settings.SweepConcurrency < 1 {
		settings.SweepConcurrency = 1
	}
	if _, err := settings.Location(); err != nil {
		return nil, fmt.Errorf("SCHOOL_TIMEZONE: %w", err)
	}
	return &settings, nil
}

func (s LedgerSettings) LockTTL() time.Duration {
	return time.Duration(s.LockTTLSeconds) * time.Second
}

func (s LedgerSettings) LockWait() time.Duration {
	return time.Duration(s.LockWaitMillis) * time.Millisecond
}

func (s LedgerSettings) OutboxPollInterval() time.Duration {
	return time.Duration(s.OutboxPollMillis) * time.Millisecond
}

// Location is the timezone "today" is evaluated in when deciding overdue.
func (s LedgerSettings) Location() (*time.Location, error) {
	return time.LoadLocation(s.SchoolTimezone)
}
