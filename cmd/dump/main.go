package dump

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alpacahq/journald/reader"
	"github.com/alpacahq/journald/utils/log"
)

const (
	dumpUsage     = "dump JOURNAL..."
	dumpShortDesc = "Print the records of journal files"
	dumpLongDesc  = "This command replays each journal file and prints one line per stream event: init, append, end and abort."
)

var (
	// Cmd is the dump command.
	Cmd = &cobra.Command{
		Use:     dumpUsage,
		Short:   dumpShortDesc,
		Long:    dumpLongDesc,
		Aliases: []string{"debug"},
		Example: "journald dump /var/lib/journald/current",
		Args:    cobra.MinimumNArgs(1),
		RunE:    executeDump,
	}
)

func executeDump(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	sink := reader.NewDumpSink(os.Stdout)
	defer sink.Flush()
	for _, path := range args {
		res, err := reader.Replay(filepath.Clean(path), sink)
		if err != nil {
			return err
		}
		if res.Stop != nil {
			log.Info("%s: replay stopped: %v", path, res.Stop)
		}
	}
	return nil
}
