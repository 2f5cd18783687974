package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/assistant/internal/client"
	"github.com/user/assistant/internal/profile"
)

var profileServer string

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileShowCmd, profileCheckCmd)
	profileShowCmd.Flags().StringVar(&profileServer, "server", "", "server URL (default from config)")
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect assistant profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show [override.json]",
	Short: "Print the server's default profile merged with an optional override",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		url := profileServer
		if url == "" {
			url = cfg.ServerURL
		}
		override := ""
		if len(args) == 1 {
			override = args[0]
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		p, err := profile.Resolve(ctx, client.New(url, ""), override)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var profileCheckCmd = &cobra.Command{
	Use:   "check <profile.json>",
	Short: "Validate a profile file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := profile.Load(args[0])
		if err != nil {
			return err
		}
		printProfileSummary(os.Stdout, p)
		return nil
	},
}

func printProfileSummary(w io.Writer, p *profile.Profile) {
	enabled, disabled := p.EnabledKeys()
	fmt.Fprintf(w, "Enabled capabilities:  %s\n", listOrNone(enabled))
	fmt.Fprintf(w, "Disabled capabilities: %s\n", listOrNone(disabled))

	persona := strings.TrimSpace(p.Persona.SystemPrompt)
	if persona == "" {
		persona = "(server default)"
	} else if r := []rune(persona); len(r) > 120 {
		persona = string(r[:117]) + "..."
	}
	fmt.Fprintf(w, "Persona: %s\n", persona)
}

func listOrNone(keys []string) string {
	if len(keys) == 0 {
		return "none"
	}
	return strings.Join(keys, ", ")
}
