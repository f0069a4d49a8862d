package client

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alpacahq/journald/client"
	"github.com/alpacahq/journald/protocol"
)

const (
	usage     = "client SOCKET IDENT"
	shortDesc = "Submit standard input as one stream"
	longDesc  = "This command sends its standard input to the daemon listening on SOCKET as the stream IDENT and exits non-zero unless the stream was made durable."
	example   = "tail -n 100 app.log | journald client /run/journald.sock app"
)

var (
	// Cmd is the client command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   shortDesc,
		Long:    longDesc,
		Example: example,
		Args:    cobra.ExactArgs(2),
		RunE:    executeClient,
	}
	framing string
)

func init() {
	Cmd.Flags().StringVar(&framing, "framing", string(protocol.Text), "wire framing: text or binary")
}

func executeClient(cmd *cobra.Command, args []string) error {
	f, err := protocol.ParseFraming(framing)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	c, err := client.Dial(args[0], args[1], f)
	if err != nil {
		return err
	}
	if _, err := c.ReadFrom(os.Stdin); err != nil {
		_ = c.Abort()
		return fmt.Errorf("send stream: %w", err)
	}
	ok, err := c.Close()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("stream %s was not committed", args[1])
	}
	return nil
}
