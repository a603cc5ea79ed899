package main

import "github.com/aweris/blocksync/cmd/blocksync/cmd"

func main() {
	cmd.Execute()
}
