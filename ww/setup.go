package ww

import (
	"context"
	"strings"

	"github.com/pterm/pterm"
	"github.com/roessland/wattwich/config"
	"github.com/roessland/wattwich/vault"
)

// PromptFunc asks a human for one value. masked hides the typed input.
type PromptFunc func(label string, masked bool) (string, error)

// PtermPrompt reads a line from the terminal using pterm.
func PtermPrompt(label string, masked bool) (string, error) {
	input := pterm.DefaultInteractiveTextInput
	if masked {
		input = *input.WithMask("*")
	}
	return input.Show(label)
}

// PromptSetup asks a human at the terminal for the missing credentials.
// The prompt blocks; it does not observe ctx.
type PromptSetup struct {
	Prompt PromptFunc
}

// NewPromptSetup creates a setup that prompts with pterm.
func NewPromptSetup() *PromptSetup {
	return &PromptSetup{Prompt: PtermPrompt}
}

func (s *PromptSetup) MissingFields(ctx context.Context, cfg config.Config) (config.Fields, error) {
	var fields config.Fields

	if cfg.Username == "" {
		username, err := s.Prompt("Portal username", false)
		if err != nil {
			return config.Fields{}, err
		}
		fields.Username = strings.TrimSpace(username)
	}

	if !cfg.HasPassword() {
		password, err := s.Prompt("Portal password", true)
		if err != nil {
			return fields, err
		}
		fields.Password = password
	}

	return fields, nil
}

// EnvSetup supplies credentials provided non-interactively, such as through
// environment variables or flags.
type EnvSetup struct {
	Username string
	Password string
}

func (s EnvSetup) MissingFields(ctx context.Context, cfg config.Config) (config.Fields, error) {
	var fields config.Fields
	if cfg.Username == "" {
		fields.Username = s.Username
	}
	if !cfg.HasPassword() {
		fields.Password = s.Password
	}
	return fields, nil
}

// SetupChain tries each setup in turn until the configuration is complete.
// On error it returns the fields gathered so far along with the error.
type SetupChain []Setup

func (c SetupChain) MissingFields(ctx context.Context, cfg config.Config) (config.Fields, error) {
	var merged config.Fields
	needUsername, needPassword := cfg.Username == "", !cfg.HasPassword()
	for _, s := range c {
		if !needUsername && !needPassword {
			break
		}
		fields, err := s.MissingFields(ctx, cfg)
		if needUsername && fields.Username != "" {
			merged.Username = fields.Username
			cfg.Username = fields.Username
			needUsername = false
		}
		if needPassword && fields.Password != "" {
			merged.Password = fields.Password
			cfg.Password = vault.Encode(fields.Password)
			needPassword = false
		}
		if err != nil {
			return merged, err
		}
	}
	return merged, nil
}
