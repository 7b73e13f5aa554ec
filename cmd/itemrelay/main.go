// The main package for the itemrelay executable.
package main

import "github.com/JakeFAU/itemrelay/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
