package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brandloom/personachat/pkg/config"
	"github.com/brandloom/personachat/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "personachat",
	Short: "Chat with Brandloom personas",
	Long: `Streams persona responses token-by-token, with insight extraction
and knowledge-context attachment over the Brandloom persona API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .personachat/settings.yaml)")

	rootCmd.PersistentFlags().StringP("server", "s", "", "persona server base URL")
	viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.PersistentFlags().StringP("persona", "p", "", "persona id to chat with")
	viper.BindPFlag("persona", rootCmd.PersistentFlags().Lookup("persona"))

	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if err := config.Init(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
}
