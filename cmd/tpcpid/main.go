package main

import "github.com/strrl/tpcpid/internal/cmd"

func main() {
	cmd.Execute()
}
