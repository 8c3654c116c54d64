// Command ngconsole hosts the console companion server for open workspaces.
package main

import (
	"os"

	"github.com/tessro/ngconsole/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
