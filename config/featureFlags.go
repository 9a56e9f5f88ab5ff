package config

import (
	"os"
	"strings"
)

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SweepOnStartup runs one reconciliation sweep of every school when the
// server boots.
//
// Set via env:
// - SWEEP_ON_STARTUP=true
func SweepOnStartup() bool {
	return envBool("SWEEP_ON_STARTUP")
}

// SynthesizeLegacyEntries lets scheduled sweeps insert compensating
// "system-backfill" payments for installments migrated with a paid amount but
// no ledger rows. Off by default; the CLI can turn it on per run.
//
// Set via env:
// - SYNTHESIZE_LEGACY_ENTRIES=true
func SynthesizeLegacyEntries() bool {
	return envBool("SYNTHESIZE_LEGACY_ENTRIES")
}

// SweepSchools lists the schools the scheduled sweep visits.
//
// Set via env:
// - SWEEP_SCHOOL_IDS="school-a,school-b"
func SweepSchools() []string {
	var out []string
	for _, part := range strings.Split(os.Getenv("SWEEP_SCHOOL_IDS"), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
