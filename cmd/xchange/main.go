// Command xchange operates one domain of the device order exchange.
package main

import (
	"os"

	"github.com/roach88/xchange/internal/cli"
)

func main() {
	os.Exit(cli.Main(os.Args[1:], os.Stdout, os.Stderr))
}
