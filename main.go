// The main package for the wikicrawl executable.
package main

import (
	"github.com/JakeFAU/wikicrawl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
