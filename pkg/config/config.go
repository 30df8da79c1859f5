package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings holds all configuration values
type Settings struct {
	// Server configuration
	Server struct {
		URL     string
		Timeout time.Duration
	}

	// Default persona to chat with
	Persona string

	// Logging configuration
	Logging struct {
		LogFile string
		Persist bool
		Level   string
	}

	// ConfigFile stores the path to the config file used
	ConfigFile string
}

// Global settings instance
var Global *Settings

// Init initializes the configuration system
func Init(cfgFile string) error {
	Global = &Settings{}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		Global.ConfigFile = cfgFile
	} else {
		viper.AddConfigPath("./.personachat")
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
		Global.ConfigFile = ".personachat/settings.yaml"
	}

	setDefaults()

	viper.SetEnvPrefix("personachat")
	viper.AutomaticEnv()

	// Allow the server URL and persona to come from the environment without
	// the prefix, matching how deployments already export them
	viper.BindEnv("server.url", "PERSONA_SERVER_URL")
	viper.BindEnv("persona", "PERSONA_ID")

	// Read config file if it exists; a missing file is not an error
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile == "" {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	load(Global)
	if Global.Server.URL == "" {
		return fmt.Errorf("server.url must not be empty")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.url", "http://localhost:8080")
	viper.SetDefault("server.timeout", 30)

	viper.SetDefault("persona", "")

	viper.SetDefault("logging.log_file", "./.personachat/system.log")
	viper.SetDefault("logging.persist", true)
	viper.SetDefault("logging.level", "info")
}

func load(s *Settings) {
	s.Server.URL = viper.GetString("server.url")
	s.Server.Timeout = time.Duration(viper.GetInt("server.timeout")) * time.Second
	s.Persona = viper.GetString("persona")
	s.Logging.LogFile = viper.GetString("logging.log_file")
	s.Logging.Persist = viper.GetBool("logging.persist")
	s.Logging.Level = viper.GetString("logging.level")
}

// Get returns the global settings, initializing with defaults if needed.
// The defaults always yield a valid server URL, so this path needs no
// validation; Init is where explicit configuration is checked.
func Get() *Settings {
	if Global == nil {
		Global = &Settings{}
		setDefaults()
		load(Global)
	}
	return Global
}

// Reset clears the global settings (useful for testing)
func Reset() {
	Global = nil
	viper.Reset()
}
