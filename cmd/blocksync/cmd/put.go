package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aweris/blocksync"
)

var putCommit bool

var putCmd = &cobra.Command{
	Use:   "put <path>",
	Short: "Store a file or directory",
	Long:  "Store a file as a blob, or a directory as a tree of blobs, and print the resulting block ID.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPut,
}

func init() {
	putCmd.Flags().BoolVarP(&putCommit, "commit", "c", false, "commit the stored block as the new root")
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) (err error) {
	r, err := openReplica()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	id, err := putPath(r, args[0])
	if err != nil {
		return err
	}

	if putCommit {
		c, err := r.CommitRoot(id)
		if err != nil {
			return fmt.Errorf("commit failed: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Committed at tick %d\n", c.Clock.Get(r.User()))
	}

	fmt.Println(id)
	return nil
}

func putPath(r *blocksync.Replica, path string) (blocksync.BlockID, error) {
	info, err := os.Stat(path)
	if err != nil {
		return blocksync.BlockID{}, err
	}

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return blocksync.BlockID{}, err
		}
		return r.PutBlob(data)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return blocksync.BlockID{}, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var tree blocksync.Tree
	for _, entry := range entries {
		id, err := putPath(r, filepath.Join(path, entry.Name()))
		if err != nil {
			return blocksync.BlockID{}, err
		}
		tree = append(tree, blocksync.TreeEntry{Name: entry.Name(), ID: id})
	}
	return r.PutTree(tree)
}
