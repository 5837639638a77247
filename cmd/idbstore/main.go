package main

import (
	"os"

	"idbpersist/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
