package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/config"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/database"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
)

// setupAnswers collects the wizard input.
type setupAnswers struct {
	channel     string
	token       string
	provider    string
	baseURL     string
	model       string
	apiKey      string
	backend     string
	sqlitePath  string
	timezone    string
	defaultTime string
}

// newSetupCmd creates the `chatdigest setup` interactive wizard.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Asks for the chat platform, LLM provider and database, writes the
config file and stores tokens in the OS keyring.`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg := config.DefaultConfig()
	ans := setupAnswers{
		channel:     cfg.Channel.Type,
		provider:    "openai",
		baseURL:     cfg.LLM.BaseURL,
		model:       cfg.LLM.Model,
		backend:     string(database.BackendSQLite),
		sqlitePath:  cfg.Database.SQLite.Path,
		timezone:    cfg.Digest.Timezone,
		defaultTime: cfg.Digest.DefaultTime,
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Chat platform").
				Options(
					huh.NewOption("Telegram", config.ChannelTelegram),
					huh.NewOption("Discord", config.ChannelDiscord),
				).
				Value(&ans.channel),
			huh.NewInput().
				Title("Bot token").
				Description("Stored in the OS keyring, never in the config file.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.token),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("OpenAI compatible", "openai"),
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("Gemini", "gemini"),
				).
				Value(&ans.provider),
			huh.NewInput().Title("API base URL").Value(&ans.baseURL),
			huh.NewInput().Title("Model").Value(&ans.model),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&ans.apiKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Database").
				Options(
					huh.NewOption("SQLite", string(database.BackendSQLite)),
					huh.NewOption("PostgreSQL", string(database.BackendPostgreSQL)),
					huh.NewOption("MySQL", string(database.BackendMySQL)),
				).
				Value(&ans.backend),
			huh.NewInput().
				Title("SQLite file").
				Description("Ignored for PostgreSQL and MySQL; edit the config file for those.").
				Value(&ans.sqlitePath),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Timezone for digest times").
				Validate(func(s string) error {
					_, err := time.LoadLocation(s)
					return err
				}).
				Value(&ans.timezone),
			huh.NewInput().
				Title("Default digest time (HH:MM)").
				Validate(func(s string) error {
					_, err := models.ParseTimeOfDay(s)
					return err
				}).
				Value(&ans.defaultTime),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Setup cancelled.")
			return nil
		}
		return err
	}

	ans.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid setup: %w", err)
	}
	if err := config.SaveConfigToFile(cfg, path); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config written to %s\n", path)
	for name, value := range ans.secrets() {
		if value == "" {
			continue
		}
		if err := config.StoreKeyring(name, value); err != nil {
			fmt.Fprintf(out, "Keyring unavailable for %s (%v); export %s instead.\n", name, err, config.EnvName(name))
			continue
		}
		fmt.Fprintf(out, "Stored %s in the OS keyring.\n", name)
	}
	return nil
}

// apply copies the answers onto cfg.
func (a setupAnswers) apply(cfg *config.Config) {
	cfg.Channel.Type = a.channel
	cfg.LLM.Provider = a.provider
	cfg.LLM.BaseURL = a.baseURL
	cfg.LLM.Model = a.model
	if a.provider != "openai" {
		cfg.LLM.Driver = "eino"
	}
	cfg.Database.Backend = database.BackendType(a.backend)
	cfg.Database.SQLite.Path = a.sqlitePath
	cfg.Digest.Timezone = a.timezone
	cfg.Digest.DefaultTime = a.defaultTime
}

// secrets maps keyring names to the entered values.
func (a setupAnswers) secrets() map[string]string {
	tokenName := "telegram_token"
	if a.channel == config.ChannelDiscord {
		tokenName = "discord_token"
	}
	return map[string]string{
		tokenName:     a.token,
		"llm_api_key": a.apiKey,
	}
}
