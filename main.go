// The main package for the collector executable.
package main

import (
	"github.com/changhorizon/content-collector/cmd"
)

func main() {
	cmd.Execute()
}
