package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "wattwich",
	Short: "Keep a local archive of daily electricity usage",
	Long: `Wattwich logs in to the utility portal, downloads the usage export for every
day missing from the local archive and forwards the readings to a telemetry sink.

Each day is stored as one CSV file named YYYY-MM-DD.csv. A day is never fetched
again once its file exists.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile the archive continuously",
	Long:  `Run reconciliation cycles until interrupted, re-reading the configuration before every cycle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop(cmd.Context(), loadSettings(), false)
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single reconciliation cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop(cmd.Context(), loadSettings(), true)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which days are missing from the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(loadSettings())
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Store portal credentials and archive settings",
	Long: `Prompt for the portal credentials and save them to the configuration file.

The password is stored encoded, not in clear text.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetString("start")
		reset, _ := cmd.Flags().GetBool("reset")
		return runSetup(cmd.Context(), loadSettings(), start, reset)
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Viper defaults
	viper.SetDefault("poll_interval", "5s")
	viper.SetDefault("idle_interval", "1h")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.wattwich/wattwich.yaml)")
	rootCmd.PersistentFlags().String("archive-dir", "", "Directory holding one CSV per day (overrides archive_dir in the config file)")
	rootCmd.PersistentFlags().String("portal-url", "", "Base URL of the utility portal")
	rootCmd.PersistentFlags().Bool("json", false, "Output structured JSON logs instead of interactive mode")
	rootCmd.PersistentFlags().Bool("daemon", false, "Plain text logs on stderr, never prompt")

	runCmd.Flags().Duration("poll-interval", 0, "Wait between checks while credentials are missing (default 5s)")
	runCmd.Flags().Duration("idle-interval", 0, "Wait between reconciliation cycles (default 1h)")

	setupCmd.Flags().String("start", "", "First day to archive (e.g. '2023-01-01', '2023-01', '6m', '4w')")
	setupCmd.Flags().Bool("reset", false, "Forget the stored credentials and ask again")

	viper.BindPFlag("archive_dir", rootCmd.PersistentFlags().Lookup("archive-dir"))
	viper.BindPFlag("portal_url", rootCmd.PersistentFlags().Lookup("portal-url"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("daemon", rootCmd.PersistentFlags().Lookup("daemon"))
	viper.BindPFlag("poll_interval", runCmd.Flags().Lookup("poll-interval"))
	viper.BindPFlag("idle_interval", runCmd.Flags().Lookup("idle-interval"))

	// Bind environment variables
	viper.BindEnv("username", "WW_USERNAME")
	viper.BindEnv("password", "WW_PASSWORD")
	viper.BindEnv("archive_dir", "WW_ARCHIVE_DIR")
	viper.BindEnv("portal_url", "WW_PORTAL_URL")
	viper.BindEnv("poll_interval", "WW_POLL_INTERVAL")
	viper.BindEnv("idle_interval", "WW_IDLE_INTERVAL")
	viper.BindEnv("daemon", "WW_DAEMON")

	rootCmd.AddCommand(runCmd, onceCmd, statusCmd, setupCmd)
}

// initConfig only resolves where the configuration record lives. The record
// itself is read by config.Store on every cycle, not by viper.
func initConfig() {
	if cfgFile != "" {
		return
	}
	if path := os.Getenv("WW_CONFIG"); path != "" {
		cfgFile = path
		return
	}
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	cfgFile = filepath.Join(home, ".wattwich", "wattwich.yaml")
}
