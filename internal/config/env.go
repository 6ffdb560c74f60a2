package config

import "os"

// Environment variable names for overrides. EnvGenomeConfig matches the
// variable refgenie itself uses to locate a genome configuration.
const (
	EnvConfig       = "REFGENIES_CONFIG"
	EnvGenomeConfig = "REFGENIE"
	EnvLedger       = "REFGENIES_LEDGER"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // REFGENIES_CONFIG
	GenomeConfig string // REFGENIE
	LedgerPath   string // REFGENIES_LEDGER
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		GenomeConfig: os.Getenv(EnvGenomeConfig),
		LedgerPath:   os.Getenv(EnvLedger),
	}
}
