package dump

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fastlog-io/fastlog/wire"
)

const (
	usage   = "dump"
	short   = "Decode a compressed log file to text"
	long    = "This command decodes the framed output stream of the runtime and prints each record"
	example = "fastlog dump ./fastlog.clog"
)

// Cmd is the dump command.
var Cmd = &cobra.Command{
	Use:     usage,
	Short:   short,
	Long:    long,
	Example: example,
	Args:    cobra.ExactArgs(1),
	RunE:    executeDump,
}

// executeDump implements the dump command.
func executeDump(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}

	dec := wire.NewDecoder(data)
	count := 0
	for {
		rec, err := dec.Next()
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		fmt.Println(dec.Format(rec))
		count++
	}

	fmt.Printf("%d records, %d dictionary entries\n", count, len(dec.Dictionary()))
	return nil
}
