package main

import (
	"github.com/xkilldash9x/stampede/cmd"
)

// main is the entry point for the stampede CLI.
func main() {
	cmd.Execute()
}
