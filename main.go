// The main package for the sfcivil executable.
package main

import (
	"github.com/opencourt/sfcivil/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
