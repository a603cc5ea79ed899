package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/blocksync"
)

var mergeFileCmd = &cobra.Command{
	Use:   "merge-file <index.json>",
	Short: "Merge a peer's index snapshot",
	Long:  "Merge an index snapshot exported by another replica. Blocks the merge references that are not present locally are reported as missing.",
	Args:  cobra.ExactArgs(1),
	RunE:  runMergeFile,
}

func init() {
	rootCmd.AddCommand(mergeFileCmd)
}

func runMergeFile(cmd *cobra.Command, args []string) (err error) {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	peer, err := blocksync.DeserializeIndex(data)
	if err != nil {
		return fmt.Errorf("invalid index snapshot: %w", err)
	}

	r, err := openReplica()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	res, err := r.Merge(peer)
	if err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Adopted %d commits\n", res.AdoptedCommits)
	for _, id := range res.NewlyMissing {
		fmt.Printf("missing %s\n", id)
	}
	return nil
}
