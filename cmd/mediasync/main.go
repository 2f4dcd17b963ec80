package main

import (
	"os"

	"github.com/amaumene/mediasync/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
