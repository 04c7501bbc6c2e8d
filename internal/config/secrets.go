package config

import "slices"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by
// "***", safe to log.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Gemini.APIKey)

	redact(&out.Database.DSN)
	redact(&out.Database.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices are cloned so the copy cannot alias the original.
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
