// Package appid holds the static application identity used for CLI help text,
// config discovery, env prefixes and telemetry namespaces.
package appid

import (
	"context"
	"strings"
)

// Identity describes how the application presents itself to the environment.
type Identity struct {
	BinaryName  string
	ConfigName  string
	EnvPrefix   string
	Description string
	Vendor      string
}

var defaultIdentity = Identity{
	BinaryName:  "dogshouse",
	ConfigName:  "dogshouse",
	EnvPrefix:   "DOGSHOUSE_",
	Description: "Dogs house service with per-client request rate limiting",
	Vendor:      "dogshouse",
}

// Get returns the application identity.
func Get(ctx context.Context) (*Identity, error) {
	identity := defaultIdentity
	return &identity, nil
}

// TelemetryNamespace returns the metric namespace derived from the binary name.
func (i *Identity) TelemetryNamespace() string {
	if i == nil || strings.TrimSpace(i.BinaryName) == "" {
		return "app"
	}
	return strings.ReplaceAll(strings.ToLower(i.BinaryName), "-", "_")
}

// EnvVar returns the prefixed environment variable name for suffix.
func (i *Identity) EnvVar(suffix string) string {
	prefix := "DOGSHOUSE_"
	if i != nil && i.EnvPrefix != "" {
		prefix = i.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix + strings.ToUpper(suffix)
}

// ViperEnvPrefix returns the env prefix without the trailing underscore, the
// form viper.SetEnvPrefix expects.
func (i *Identity) ViperEnvPrefix() string {
	if i == nil {
		return "DOGSHOUSE"
	}
	return strings.TrimSuffix(i.EnvPrefix, "_")
}
