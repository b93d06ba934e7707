package main

import (
	"os"

	"github.com/dbcrust/dbcrust/cmd/dbcrust/cli"
)

func main() {
	os.Exit(cli.Execute())
}
