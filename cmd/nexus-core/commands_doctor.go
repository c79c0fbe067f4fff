package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-core/internal/config"
)

// buildDoctorCmd loads and validates configuration without starting any
// subsystem, exiting non-zero on the first problem found — the
// config-validate-and-exit shape the teacher's buildDoctorCmd offers,
// trimmed of the repair/probe/audit flags this module has no equivalent
// subsystems for (no service-manager install, no webhook probes here).
func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and report which optional subsystems are enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to nexus-core.toml")
	return cmd
}

func runDoctor(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	fmt.Printf("config ok: %s\n", configPath)
	fmt.Printf("  server:          %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  storage driver:  %s\n", cfg.Storage.Driver)
	fmt.Printf("  model:           %s\n", cfg.Models.Model)
	fmt.Printf("  knowledge base:  %s\n", enabledLabel(cfg.KB.VectorDSN != ""))
	fmt.Printf("  openai key:      %s\n", enabledLabel(cfg.Provider.OpenAIAPIKey != ""))
	fmt.Printf("  anthropic key:   %s\n", enabledLabel(cfg.Provider.AnthropicAPIKey != ""))
	fmt.Printf("  bfl (flux) key:  %s\n", enabledLabel(cfg.Provider.BFLAPIKey != ""))
	fmt.Printf("  gemini key:      %s\n", enabledLabel(cfg.Provider.GeminiAPIKey != ""))
	fmt.Printf("  irc callback:    %s\n", enabledLabel(cfg.Server.IRCCallbackURL != ""))
	return nil
}

func enabledLabel(on bool) string {
	if on {
		return "configured"
	}
	return "not configured"
}
