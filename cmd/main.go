package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/journald/cmd/client"
	"github.com/alpacahq/journald/cmd/dump"
	"github.com/alpacahq/journald/cmd/read"
	"github.com/alpacahq/journald/cmd/start"
	"github.com/alpacahq/journald/utils"
	"github.com/alpacahq/journald/utils/log"
)

var (
	// flagPrintVersion set flag to show current journald version.
	flagPrintVersion bool
	flagLogLevel     string
)

// Execute builds the command tree and executes commands.
func Execute() error {
	defer log.Sync()

	// c is the root command.
	c := &cobra.Command{
		Use: "journald",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("log-level") {
				return nil
			}
			level, err := log.ParseLevel(flagLogLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Print version if specified.
			if flagPrintVersion {
				printVersion()
				return nil
			}
			// Print information regarding usage.
			return cmd.Usage()
		},
	}

	// Adds subcommands and version flag.
	c.AddCommand(start.Cmd)
	c.AddCommand(client.Cmd)
	c.AddCommand(read.Cmd)
	c.AddCommand(dump.Cmd)
	c.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the version info",
		Run:   func(*cobra.Command, []string) { printVersion() },
	})
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")
	c.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warning, error or fatal")

	return c.Execute()
}

func printVersion() {
	log.Info("version: %+v", utils.Tag)
	log.Info("commit hash: %+v", utils.GitHash)
	log.Info("utc build time: %+v", utils.BuildStamp)
}
