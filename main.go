// The main package for the linksentry executable.
package main

import (
	"github.com/cbmoss/linksentry/cmd"
)

func main() {
	cmd.Execute()
}
