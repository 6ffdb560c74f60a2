// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for refgenies. Settings follow a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// All keys are flat; the embedded sections only group related fields.
type Config struct {
	LoggingConfig
	ArchiveConfig
}

// LoggingConfig controls log verbosity and output encoding.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// ArchiveConfig controls how servable archives are built. The placeholder
// and version fields replace constants that would otherwise be baked into
// the archiver.
type ArchiveConfig struct {
	GenomeConfig           string `toml:"genome_config"`
	LedgerPath             string `toml:"ledger_path"`
	Packager               string `toml:"packager"`
	GenomeDescriptions     string `toml:"genome_descriptions"`
	DescriptionPlaceholder string `toml:"description_placeholder"`
	DigestPlaceholder      string `toml:"digest_placeholder"`
	DefaultTag             string `toml:"default_tag"`
	RequiredConfigVersion  string `toml:"required_config_version"`
}

// CLIOverrides holds values from CLI flags. Empty strings mean "not given".
type CLIOverrides struct {
	ConfigPath   string // --config
	GenomeConfig string // --genome-config
}

// Resolved is the effective configuration after every override layer.
type Resolved struct {
	Config

	// ConfigPath is the tool config file that was consulted (it may not exist).
	ConfigPath string
}
