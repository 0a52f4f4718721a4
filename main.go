// The main package for the seqscan executable.
package main

import (
	"github.com/arkival/seqscan/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
