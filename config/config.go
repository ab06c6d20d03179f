// Package config loads named session profiles and persistence targets
// from orbit.yaml and ORBIT_ environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/syssam/orbit"
)

// FileName is the name of the config file.
const FileName = "orbit.yaml"

// FileNameAlt is the alternate name of the config file.
const FileNameAlt = "orbit.yml"

// EnvPrefix prefixes environment variables. A double underscore separates
// nested keys: ORBIT_PROFILES__DEV__LOG_LEVEL sets profiles.dev.log_level.
const EnvPrefix = "ORBIT_"

// DefaultProfile is the profile used when none is named.
const DefaultProfile = "default"

// redirect prefixes a reference to a named entry or setting.
const redirect = "name="

// Target kinds.
const (
	// KindDiscard accepts saves without writing anything.
	KindDiscard = "discard"
	// KindLog logs every saved entry.
	KindLog = "log"
)

// Config holds the profiles and targets of a project.
type Config struct {
	DefaultProfile string             `koanf:"default_profile"`
	Profiles       map[string]Profile `koanf:"profiles"`
	Targets        map[string]Target  `koanf:"targets"`

	k    *koanf.Koanf
	path string
}

// Profile configures a session.
type Profile struct {
	Name              string        `koanf:"-"`
	AutoDetectChanges *bool         `koanf:"auto_detect_changes"`
	LogLevel          string        `koanf:"log_level"`
	Target            string        `koanf:"target"`
	SlowSave          time.Duration `koanf:"slow_save"`
}

// Level parses the log level of the profile. Empty means info.
func (p Profile) Level() (slog.Level, error) {
	var l slog.Level
	if p.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(p.LogLevel)); err != nil {
		return 0, orbit.WrapConfigurationConflictError(err, "Profile", p.Name, fmt.Sprintf("invalid log level %q", p.LogLevel))
	}
	return l, nil
}

// Target is a named persistence target.
type Target struct {
	Name       string `koanf:"-"`
	Kind       string `koanf:"kind"`
	Connection string `koanf:"connection"`
}

// Load loads configuration from path, or from orbit.yaml or orbit.yml in
// the working directory when path is empty, then from environment
// variables. A missing default file is not an error.
func Load(path string) (*Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is Load with command line flags applied last. Only flags
// that were set count; --profile sets default_profile.
func LoadWithFlags(path string, flags *pflag.FlagSet) (*Config, error) {
	if path == "" {
		path = findConfigFile(".")
	}
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(map[string]any{
		"default_profile": DefaultProfile,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed || f.Name != "profile" {
				return "", nil
			}
			return "default_profile", posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}
	cfg := &Config{k: k, path: path}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return cfg, nil
}

// LoadFromDir loads orbit.yaml or orbit.yml from dir.
func LoadFromDir(dir string) (*Config, error) {
	path := findConfigFile(dir)
	if path == "" {
		return nil, orbit.NewNotFoundError("config file", filepath.Join(dir, FileName))
	}
	return Load(path)
}

// findConfigFile returns the config file in dir, or "".
func findConfigFile(dir string) string {
	for _, name := range []string{FileName, FileNameAlt} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string { return c.path }

// Profile returns the named profile, or the default profile when name is
// empty. The name may carry a name= prefix. The default profile exists
// even when the file does not declare it.
func (c *Config) Profile(name string) (Profile, error) {
	if name == "" {
		name = c.DefaultProfile
	}
	name = strings.TrimPrefix(name, redirect)
	p, ok := c.Profiles[name]
	if !ok && name != DefaultProfile {
		return Profile{}, orbit.NewNotFoundError("profile", name)
	}
	p.Name = name
	return p, nil
}

// Target returns the target ref names, with ref either a plain name or
// name=<target>. A connection of the form name=<key> is replaced by the
// setting at key.
func (c *Config) Target(ref string) (Target, error) {
	name := strings.TrimPrefix(ref, redirect)
	t, ok := c.Targets[name]
	if !ok {
		return Target{}, orbit.NewNotFoundError("target", name)
	}
	t.Name = name
	if t.Kind == "" {
		t.Kind = KindDiscard
	}
	conn, err := c.Resolve(t.Connection)
	if err != nil {
		return Target{}, fmt.Errorf("target %s: %w", name, err)
	}
	t.Connection = conn
	return t, nil
}

// Resolve returns value, or the setting it names when it has the form
// name=<key>.
func (c *Config) Resolve(value string) (string, error) {
	key, ok := strings.CutPrefix(value, redirect)
	if !ok {
		return value, nil
	}
	if !c.k.Exists(key) {
		return "", orbit.NewNotFoundError("setting", key)
	}
	return c.k.String(key), nil
}
