package read

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alpacahq/journald/reader"
	"github.com/alpacahq/journald/utils/log"
)

const (
	readUsage     = "read JOURNAL PROGRAM [ARGS...]"
	readShortDesc = "Hand every completed stream of a journal to a program"
	readLongDesc  = `This command replays JOURNAL and runs PROGRAM once for every stream that
ended. The stream is the program's standard input; its identifier and starting
offset are appended to ARGS. Aborted streams are discarded.`
	readExample = "journald read /var/lib/journald/current sh -c 'cat >> \"/srv/logs/$0\"'"
)

var (
	// Cmd is the read command.
	Cmd = &cobra.Command{
		Use:     readUsage,
		Short:   readShortDesc,
		Long:    readLongDesc,
		Example: readExample,
		Args:    cobra.MinimumNArgs(2),
		RunE:    executeRead,
	}
	dirMode bool
	pattern string
	remove  bool
	tmpDir  string
)

func init() {
	f := Cmd.Flags()
	f.BoolVarP(&dirMode, "dir", "d", false, "JOURNAL is a directory; replay every matching file in it")
	f.StringVarP(&pattern, "pattern", "p", reader.DefaultPattern, "glob selecting journal files with --dir")
	f.BoolVar(&remove, "remove", false, "with --dir, delete each file that replayed completely")
	f.StringVar(&tmpDir, "tmpdir", "", "directory for spooled streams")
	// everything after PROGRAM belongs to it
	f.SetInterspersed(false)
}

func executeRead(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := reader.NewExecSink(ctx, args[1], args[2:]...)
	sink.TempDir = tmpDir
	sink.Stdout = os.Stdout
	sink.Stderr = os.Stderr

	var results []reader.Result
	if dirMode {
		var err error
		results, err = reader.ReplayDir(args[0], sink, reader.DirOptions{Pattern: pattern, Remove: remove})
		if err != nil {
			return err
		}
	} else {
		if remove {
			return fmt.Errorf("--remove needs --dir")
		}
		res, err := reader.Replay(args[0], sink)
		if err != nil {
			return err
		}
		results = append(results, res)
	}
	for _, res := range results {
		log.Info("%s: %d records in %d transactions, %d streams ended, %d aborted, %d records dropped",
			res.Path, res.Records, res.Transactions, res.Ended, res.Aborted, res.Dropped)
		if res.Stop != nil {
			log.Info("%s: replay stopped: %v", res.Path, res.Stop)
		}
	}
	return nil
}
