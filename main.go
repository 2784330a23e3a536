// ./main.go
package main

import (
	"github.com/xkilldash9x/fusion-pilot/cmd"
)

// main is the entry point for the fusion-pilot CLI.
func main() {
	cmd.Execute()
}
