/*
Package configs is responsible for loading and parsing the application's configuration settings.

It configures server parameters by reading operating system environment variables,
including the running environment, port, CORS allowed origins, and the STUN servers
handed to clients for peer negotiation.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultSTUNServer is used when no STUN_SERVERS override is present.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// AppConfig contains all configuration parameters required for the application to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins []string

	// STUNServers are advertised to clients for peer link negotiation.
	STUNServers []string
}

// LoadConfig reads and parses the application configuration from environment variables.
// It provides default values for each configuration item and performs necessary type
// conversions and validation. It returns a pointer to the AppConfig struct and any
// error encountered.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}

	// Environment
	cfg.Environment = os.Getenv("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	// Port
	portStr := os.Getenv("PORT")
	if portStr == "" {
		portStr = "8080"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT environment variable: %w", err)
	}
	cfg.Port = port

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	// AllowedOrigins
	originsStr := os.Getenv("ALLOWED_ORIGINS")
	if originsStr != "" {
		for _, origin := range strings.Split(originsStr, ",") {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	} else {
		cfg.AllowedOrigins = []string{}
	}

	// STUNServers
	stunStr := os.Getenv("STUN_SERVERS")
	if stunStr != "" {
		for _, server := range strings.Split(stunStr, ",") {
			trimmed := strings.TrimSpace(server)
			if trimmed != "" {
				cfg.STUNServers = append(cfg.STUNServers, trimmed)
			}
		}
	}
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = []string{DefaultSTUNServer}
	}

	return cfg, nil
}
