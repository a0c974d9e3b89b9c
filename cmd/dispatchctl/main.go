package main

import (
	"os"

	"mailbridge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
