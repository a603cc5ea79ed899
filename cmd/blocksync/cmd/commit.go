package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/blocksync"
)

var commitCmd = &cobra.Command{
	Use:   "commit <block-id>",
	Short: "Commit a block as the new root",
	Long:  "Advance the local clock and publish the given block as this replica's root. The previous root's subtree is released.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommit,
}

func init() {
	rootCmd.AddCommand(commitCmd)
}

func runCommit(cmd *cobra.Command, args []string) (err error) {
	root, err := blocksync.ParseBlockID(args[0])
	if err != nil {
		return fmt.Errorf("invalid block id: %w", err)
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

	c, err := r.CommitRoot(root)
	if err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	fmt.Printf("%s @ tick %d\n", c.Root, c.Clock.Get(r.User()))
	return nil
}
