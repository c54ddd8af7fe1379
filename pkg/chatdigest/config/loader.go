package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?error}.
//
// Capture groups:
//   - Group 1: variable name
//   - Group 2: modifier ("-" for default, "?" for error)
//   - Group 3: default value or error message
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// LoadConfigFromFile reads a YAML config file over the defaults. .env files
// are loaded first, ${VAR} references are expanded, and secrets are
// resolved from the keyring and environment.
func LoadConfigFromFile(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, unresolved, err := expandEnvVars(string(data))
	if err != nil {
		return nil, err
	}
	if len(unresolved) > 0 {
		logger.Warn("config references unset environment variables", "vars", unresolved)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}
	cfg.Database.SQLite.Path = resolvePathFromConfig(cfg.Database.SQLite.Path, filepath.Dir(path))
	ResolveSecrets(cfg, logger)
	checkFilePermissions(path, logger)
	return cfg, nil
}

// Load finds and loads the config file. With no file anywhere it returns
// the defaults, with secrets still resolved from keyring and environment.
func Load(flagPath string, logger *slog.Logger) (*Config, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := FindConfigFile(flagPath)
	if path == "" {
		if flagPath != "" {
			return nil, "", fmt.Errorf("config file %s not found", flagPath)
		}
		loadEnvFiles()
		cfg := DefaultConfig()
		ResolveSecrets(cfg, logger)
		return cfg, "", nil
	}
	cfg, err := LoadConfigFromFile(path, logger)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// ParseConfig parses YAML bytes into a Config, starting from the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes cfg as YAML with owner-only permissions, keeping
// a .bak copy of the previous file. Secrets are never written.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := cfg.WithoutSecrets()
	data, err := yaml.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile returns the first existing config file: flagPath when
// set, then ./config.yaml, ./configs/config.yaml and
// ~/.chatdigest/config.yaml.
func FindConfigFile(flagPath string) string {
	if flagPath != "" {
		if _, err := os.Stat(flagPath); err == nil {
			return flagPath
		}
		return ""
	}

	candidates := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".chatdigest", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// DefaultConfigPath is where setup writes a new config.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".chatdigest", "config.yaml")
}

// loadEnvFiles loads .env files. Existing variables are not overwritten.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR}, ${VAR:-default} and ${VAR:?error}
// references. Unset plain references are replaced by an empty string and
// reported in unresolved; an unset ${VAR:?error} is an error.
func expandEnvVars(input string) (string, []string, error) {
	var (
		missing    error
		unresolved = map[string]bool{}
	)
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, modifier, value := sub[1], sub[2], sub[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		switch modifier {
		case "-":
			return value
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			if missing == nil {
				missing = fmt.Errorf("config error: %s - %s", name, value)
			}
			return ""
		}
		unresolved[name] = true
		return ""
	})
	if missing != nil {
		return "", nil, missing
	}

	names := make([]string, 0, len(unresolved))
	for name := range unresolved {
		names = append(names, name)
	}
	sort.Strings(names)
	return out, names, nil
}

// resolvePathFromConfig resolves a relative path against the config file's
// directory and expands ~.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" || path == ":memory:" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// checkFilePermissions warns if the config file is group or world readable.
func checkFilePermissions(path string, logger *slog.Logger) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		logger.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
