package config

// Default values for configuration options ("layer 0" of the override chain).
const (
	defaultLogLevel               = "info"
	defaultLogFormat              = LogFormatAuto
	defaultPackager               = PackagerAuto
	defaultDescriptionPlaceholder = "Not available"
	defaultDigestPlaceholder      = "Not available"
	defaultDefaultTag             = "default"
	defaultRequiredConfigVersion  = "0.3"
)

// Log formats accepted by the log_format key.
const (
	LogFormatAuto = "auto"
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Packager names accepted by the packager key.
const (
	PackagerAuto = "auto"
	PackagerGzip = "gzip"
	PackagerPigz = "pigz"
)

// DefaultConfig returns a Config populated with all default values. It is the
// starting point for TOML decoding, so unset keys keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		ArchiveConfig: ArchiveConfig{
			Packager:               defaultPackager,
			DescriptionPlaceholder: defaultDescriptionPlaceholder,
			DigestPlaceholder:      defaultDigestPlaceholder,
			DefaultTag:             defaultDefaultTag,
			RequiredConfigVersion:  defaultRequiredConfigVersion,
		},
	}
}
