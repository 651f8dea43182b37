// Package command implements the corebridge CLI's cobra command tree,
// grounded on the manifest-level cobra+viper pairing named in
// : the --verbose/--arch persistent flags are bound through viper so
// every subcommand reads the same settings from flags or
// COREBRIDGE_-prefixed environment variables; no config file is read.
package command

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var v = viper.New()

// Execute builds and runs the root command.
func Execute() error {
	root := newRootCommand()
	return root.Execute()
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "corebridge",
		Short: "Host harness for the native<->managed bridge and image mapper",
	}

	root.PersistentFlags().Bool("verbose", false, "enable debug-level logging")
	root.PersistentFlags().String("arch", "amd64", "target architecture (amd64 or arm64)")
	_ = v.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))
	_ = v.BindPFlag("arch", root.PersistentFlags().Lookup("arch"))
	v.SetEnvPrefix("COREBRIDGE")
	v.AutomaticEnv()

	root.AddCommand(newMapCommand())
	root.AddCommand(newRunCommand())

	return root
}

func loggerFromFlags() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if v.GetBool("verbose") {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
