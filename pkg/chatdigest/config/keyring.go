package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// Secrets resolve in order: OS keyring (service "chatdigest"), then the
// CHATDIGEST_<NAME> environment variable, then the config file value.
const keyringService = "chatdigest"

const masked = "********"

// secretFields maps a secret name to its field in the config.
func secretFields(cfg *Config) map[string]*string {
	return map[string]*string{
		"telegram_token":      &cfg.Channel.Telegram.Token,
		"discord_token":       &cfg.Channel.Discord.Token,
		"llm_api_key":         &cfg.LLM.APIKey,
		"postgresql_password": &cfg.Database.PostgreSQL.Password,
		"mysql_password":      &cfg.Database.MySQL.Password,
		"redis_password":      &cfg.Lease.Password,
	}
}

// SecretNames lists the secrets that can be stored in the keyring.
func SecretNames() []string {
	names := make([]string, 0, 6)
	for name := range secretFields(DefaultConfig()) {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSecretName reports whether name is a known secret.
func IsSecretName(name string) bool {
	_, ok := secretFields(DefaultConfig())[name]
	return ok
}

// EnvName returns the environment variable for a secret.
func EnvName(secret string) string {
	return "CHATDIGEST_" + strings.ToUpper(secret)
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(name, value string) error {
	return keyring.Set(keyringService, name, value)
}

// GetKeyring retrieves a secret from the OS keyring. Returns an empty
// string if it is not there or no keyring is available.
func GetKeyring(name string) string {
	val, err := keyring.Get(keyringService, name)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(name string) error {
	return keyring.Delete(keyringService, name)
}

// ResolveSecrets fills every secret from the keyring or environment,
// falling back to the value already in the config.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for name, field := range secretFields(cfg) {
		if val := GetKeyring(name); val != "" {
			*field = val
			logger.Debug("secret loaded from OS keyring", "name", name)
			continue
		}
		if val := os.Getenv(EnvName(name)); val != "" {
			*field = val
			logger.Debug("secret loaded from environment", "name", name)
		}
	}
}

// WithoutSecrets returns a copy of cfg with every secret cleared.
func (c *Config) WithoutSecrets() *Config {
	out := *c
	for _, field := range secretFields(&out) {
		*field = ""
	}
	return &out
}

// Masked returns a copy of cfg with every set secret replaced by a mask.
func (c *Config) Masked() *Config {
	out := *c
	for _, field := range secretFields(&out) {
		if *field != "" {
			*field = masked
		}
	}
	return &out
}

// ReadPassword prompts on stderr and reads a line from the terminal without
// echoing it.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
