package config

import (
	"github.com/caarlos0/env/v11"
)

// Env holds secrets and deploy-time overrides that never live in the
// config file. Values here win over their file counterparts.
type Env struct {
	ConfigPath string `env:"DESKRELAY_CONFIG" envDefault:"./deskrelay.yaml"`

	// Opaque credentials for the external capabilities.
	TelegramToken  string `env:"DESKRELAY_TELEGRAM_TOKEN"`
	HelpdeskAPIKey string `env:"DESKRELAY_HELPDESK_API_KEY"`

	// Optional override of helpdesk.base_url (staging vs production).
	HelpdeskBaseURL string `env:"DESKRELAY_HELPDESK_BASE_URL"`
}

func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}
