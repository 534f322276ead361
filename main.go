// The main package for the linkkeeper executable.
package main

import (
	"github.com/JakeFAU/linkkeeper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
