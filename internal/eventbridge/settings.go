package eventbridge

import "github.com/kingrea/foundry/internal/config"

// Settings is the bridge section of the project config with Enabled
// resolved. Defaults and validation live in the config package.
type Settings struct {
	Enabled bool
	config.BridgeConfig
}

// SettingsFromConfig maps the loaded project config onto Settings. A nil
// config yields an enabled bridge on the default address.
func SettingsFromConfig(cfg *config.Config) Settings {
	if cfg == nil {
		return Settings{Enabled: true, BridgeConfig: config.DefaultBridge()}
	}
	return Settings{Enabled: cfg.BridgeEnabled(), BridgeConfig: cfg.Project.Bridge}
}

// URL returns the HTTP base URL for the configured address.
func (s Settings) URL() string {
	return "http://" + s.Address()
}
