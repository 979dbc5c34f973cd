package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/riftline/axonconnect/connection"
)

var (
	cfgFile string
	env     string
	devMode bool
	rootCmd = &cobra.Command{
		Use:   "axonctl",
		Short: "Reference client for dialing an event-driven cluster over the command, query, and admin channels",
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "config overlay name (loads config.<env>.yaml on top of the base file)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "use the development logger (text, stderr) instead of the production one (JSON, rotated file)")
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".axonctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// SetupLogger builds the process logger per --dev, grounded on the
// teacher's cmd.NewAsyncLogger/SetupLogger split.
func SetupLogger() (*slog.Logger, func()) {
	if devMode {
		return connection.NewDevelopmentLogger(), func() {}
	}
	return connection.NewProductionLogger("axonctl.log")
}
