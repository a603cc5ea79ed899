package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aweris/blocksync"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replica state",
	Long:  "Show the local identity, every known commit with its clock, and any blocks still missing.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) (err error) {
	r, err := openReplica()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fmt.Printf("replica  %s\n", r.User())

	commits := r.Index().Commits()
	users := make([]blocksync.UserID, 0, len(commits))
	for user := range commits {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Less(users[j]) })

	for _, user := range users {
		c := commits[user]
		marker := " "
		if user == r.User() {
			marker = "*"
		}
		fmt.Printf("%s commit %s  root %s  tick %d\n", marker, user, c.Root, c.Clock.Get(user))
	}
	if len(users) == 0 {
		fmt.Println("(no commits)")
	}

	missing := r.Index().MissingBlocks()
	if len(missing) > 0 {
		fmt.Printf("missing  %d blocks\n", len(missing))
		for _, id := range missing {
			fmt.Printf("  %s\n", id)
		}
	}

	return nil
}
