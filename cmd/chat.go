package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brandloom/personachat/pkg/config"
	"github.com/brandloom/personachat/pkg/console"
	"github.com/brandloom/personachat/pkg/logger"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session with a persona",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.Get()
		if settings.Persona == "" {
			return fmt.Errorf("no persona selected: pass --persona or set PERSONA_ID")
		}

		defer logger.Close()

		runner := console.NewRunner(settings.Server.URL, settings.Persona)
		return runner.Run(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
