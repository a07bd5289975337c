package config

import (
	"fmt"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml/v2"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// envPrefix is the prefix for environment variable overrides,
// e.g. TOLLGATE_SERVER_GRPC_PORT=9090
const envPrefix = "TOLLGATE_"

// Loader loads configuration from a file plus environment and flag overrides.
// Precedence, highest to lowest: flags, environment, file.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader loads the config file at path. JSON, YAML and TOML are supported,
// selected by extension (JSON when the extension is unknown, matching the
// native schema).
func NewLoader(path string) (*Loader, error) {
	return NewLoaderWithFlags(path, nil)
}

// NewLoaderWithFlags loads the config file and overlays environment variables
// and, when non-nil, the given flag set.
func NewLoaderWithFlags(path string, flags *pflag.FlagSet) (*Loader, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// TOLLGATE_SERVER_GRPC_PORT -> server.grpc_port
	// Single underscores separate path segments only at known top-level
	// section boundaries; within a segment they are preserved.
	if err := k.Load(env.Provider(envPrefix, ".", envToPath), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	// grpc-port -> server.grpc_port; flag names are mapped onto config
	// paths so they land on the same keys as the layers below.
	if flags != nil {
		if err := k.Load(flagProvider(flags, k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flag config: %w", err)
		}
	}

	return &Loader{k: k}, nil
}

// Get unmarshals the merged configuration.
func (l *Loader) Get() (*Config, error) {
	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return kyaml.Parser()
	case ".toml":
		return ktoml.Parser()
	default:
		return kjson.Parser()
	}
}

// sections are the top-level keys an environment variable may address.
var sections = []string{
	"server", "system", "backend", "jwt_authn", "cache", "observability",
}

// envToPath maps TOLLGATE_SECTION_SOME_KEY to section.some_key. Structured
// lists (services) are file-only.
func envToPath(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range sections {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}
	return s
}
