// pulsed - API simulation server.
package main

import (
	"os"

	"github.com/apipulse/pulsed/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
