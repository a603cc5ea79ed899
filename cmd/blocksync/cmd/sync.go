package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	syncPushOnly bool
	syncPullOnly bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Exchange state with the remote",
	Long:  "Pull the remote snapshot, merge it, fetch any blocks the merge left missing, and push the reconciled state back.",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncPushOnly, "push-only", false, "only push local state")
	syncCmd.Flags().BoolVar(&syncPullOnly, "pull-only", false, "only pull and merge remote state")
	syncCmd.MarkFlagsMutuallyExclusive("push-only", "pull-only")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) (err error) {
	r, err := openReplica()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx := context.Background()

	if !syncPushOnly {
		res, err := r.Pull(ctx)
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Merged: %d commits adopted, %d blocks missing\n",
			res.AdoptedCommits, len(res.NewlyMissing))

		if len(res.NewlyMissing) > 0 {
			n, err := r.FetchMissing(ctx)
			if err != nil {
				return fmt.Errorf("fetch failed: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Fetched %d missing blocks\n", n)
		}
	}

	if !syncPullOnly {
		if err := r.Push(ctx); err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Pushed")
	}

	return nil
}
