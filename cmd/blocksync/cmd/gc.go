package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Collect unreferenced objects",
	Long:  "Delete stored objects that no replica's index references anymore.",
	Args:  cobra.NoArgs,
	RunE:  runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) (err error) {
	r, err := openReplica()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	removed, err := r.GC()
	if err != nil {
		return fmt.Errorf("gc failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Removed %d objects\n", removed)
	return nil
}
