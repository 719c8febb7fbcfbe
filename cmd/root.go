package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dPersist/cmd/maps"
	"github.com/ValentinKolb/dPersist/cmd/serve"
	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dpersist",
		Short: "persistence layer for distributed in-memory maps",
		Long: fmt.Sprintf(`dPersist (v%s)

A map store server written in Go. It pages the entries of distributed
in-memory maps in from and out to a durable store (memory, DynamoDB, Redis).`, Version),
		PersistentPreRunE: initLogging,
		SilenceUsage:      true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dPersist",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dPersist v%s\n", Version)
		},
	}
)

func init() {
	// the map group and the root both have pre-run hooks
	cobra.EnableTraverseRunHooks = true

	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(maps.MapCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("level at which logs will be output (debug, info, warn, error)"))
}

// initLogging binds the root flags and sets up the loggers
func initLogging(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
