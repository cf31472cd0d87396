package config

import (
	"os"
	"strings"
)

// Default environment variables consulted when no token is configured.
const (
	DiscordTokenEnv  = "L9ALERTS_DISCORD_TOKEN"
	TelegramTokenEnv = "L9ALERTS_TELEGRAM_TOKEN"
)

func resolveToken(inline, env, fallbackEnv string) string {
	if t := strings.TrimSpace(inline); t != "" {
		return t
	}
	name := strings.TrimSpace(env)
	if name == "" {
		name = fallbackEnv
	}
	return strings.TrimSpace(os.Getenv(name))
}

func (c DiscordConfig) ResolveToken() string {
	return resolveToken(c.Token, c.TokenEnv, DiscordTokenEnv)
}

func (c TelegramConfig) ResolveToken() string {
	return resolveToken(c.Token, c.TokenEnv, TelegramTokenEnv)
}

// DriverName normalises transport.driver. Empty means discord.
func (c TransportConfig) DriverName() string {
	d := strings.ToLower(strings.TrimSpace(c.Driver))
	if d == "" {
		return "discord"
	}
	return d
}
