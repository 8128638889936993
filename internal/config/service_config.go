package config

// ServiceConfig is implemented by every configuration section so LoadConfig
// can run one lifecycle over all of them.
type ServiceConfig interface {
	ApplyDefaults()
	// ApplyEnvOverrides reads the section's LIVEQUERY_* variables.
	ApplyEnvOverrides()
	// ResolvePaths anchors relative paths to configDir.
	ResolvePaths(configDir string)
	Validate() error
}

// ApplyServiceConfigs runs defaults, env overrides, path resolution and
// validation over each section in turn. The first invalid section aborts.
func ApplyServiceConfigs(configDir string, sections ...ServiceConfig) error {
	for _, s := range sections {
		s.ApplyDefaults()
		s.ApplyEnvOverrides()
		s.ResolvePaths(configDir)
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
