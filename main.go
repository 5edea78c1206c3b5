// The main package for the sneakysnake executable.
package main

import (
	"github.com/JakeFAU/sneaky-snake/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
