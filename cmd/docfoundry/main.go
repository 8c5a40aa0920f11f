package main

import (
	"os"

	"github.com/docfoundry/docfoundry/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
