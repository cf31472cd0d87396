package app

import (
	"context"
	"fmt"

	"l9alerts/internal/config"
	kit "l9alerts/internal/transport"
	"l9alerts/internal/transport/console"
	"l9alerts/internal/transport/discord"
	"l9alerts/internal/transport/telegram"
	logx "l9alerts/pkg/logx"
)

// validateConfig runs every mapper so a bad reload is rejected before it is
// committed. Errors name the JSON path.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch d := cfg.Transport.DriverName(); d {
	case "discord":
		if cfg.Transport.Discord.ResolveToken() == "" {
			return fmt.Errorf("transport.discord.token: no token (set token, token_env or %s)", config.DiscordTokenEnv)
		}
	case "telegram":
		if cfg.Transport.Telegram.ResolveToken() == "" {
			return fmt.Errorf("transport.telegram.token: no token (set token, token_env or %s)", config.TelegramTokenEnv)
		}
		if _, err := config.ParseDurationField("transport.telegram.poll_timeout", cfg.Transport.Telegram.PollTimeout); err != nil {
			return err
		}
	case "console":
	default:
		return fmt.Errorf("transport.driver: unknown driver %q", cfg.Transport.Driver)
	}

	if _, _, err := mapLogging(cfg); err != nil {
		return err
	}
	t, err := mapTiming(cfg)
	if err != nil {
		return err
	}
	if _, err := mapAlertConfig(cfg, t); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCommandsConfig(cfg); err != nil {
		return err
	}
	return nil
}

// Check parses and validates a config file without starting anything.
func Check(ctx context.Context, path string) (*config.Config, error) {
	m := config.NewConfigManager(path)
	m.SetValidator(validateConfig)
	return m.Load(ctx)
}

func buildAdapter(cfg *config.Config, o options, log logx.Logger) (kit.Adapter, error) {
	tc := cfg.Transport
	switch tc.DriverName() {
	case "console":
		return console.New(o.in, o.out, log), nil
	case "telegram":
		poll, err := config.ParseDurationOrDefault("transport.telegram.poll_timeout", tc.Telegram.PollTimeout, telegram.DefaultPollTimeout)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:       tc.Telegram.ResolveToken(),
			PollTimeout: poll,
			AdminIDs:    tc.Telegram.AdminIDs,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		return ad, nil
	default:
		ad, err := discord.New(discord.Config{
			Token:        tc.Discord.ResolveToken(),
			AdminRoleIDs: tc.Discord.AdminRoleIDs,
			GuildID:      tc.Discord.GuildID,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		return ad, nil
	}
}
