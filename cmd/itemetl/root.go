package itemetl

import (
	"fmt"
	"log"
	"os"

	"github.com/edgeflare/itemetl/pkg/config"
	"github.com/edgeflare/itemetl/pkg/util"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  = zap.NewNop()
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "itemetl",
	Short: "itemetl forwards item-lifecycle events",
	Long: `itemetl validates and normalizes item events read from the raw partition
of the item-events topic and forwards them to the processed partition`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(*cobra.Command, []string) { _ = logger.Sync() },
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/itemetl.yaml)")
	rootCmd.PersistentFlags().StringP("log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Print the version number")
	mustBindPFlag("logLevel", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(forwardCmd, topicCmd, produceCmd, consumeCmd)
}

func initConfig(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.LoadWith(v, cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger, err = util.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("Using config file", zap.String("path", used))
	}
	return nil
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		log.Fatalf("Error binding flag '%s': %v", key, err)
	}
}
