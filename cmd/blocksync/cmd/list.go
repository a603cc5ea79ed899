package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored objects",
	Long:  "List every object in the store with its refcount and whether any index still references it.",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) (err error) {
	r, err := openReplica()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ids, err := r.Store().Objects()
	if err != nil {
		return err
	}

	for _, id := range ids {
		rc, err := r.Store().RefCount(id)
		if err != nil {
			return err
		}
		state := "unreferenced"
		if r.Index().SomeoneHas(id) {
			state = "referenced"
		}
		fmt.Printf("%s\trc=%d\t%s\n", id, rc, state)
	}

	if len(ids) == 0 {
		fmt.Println("(no objects)")
	}

	return nil
}
