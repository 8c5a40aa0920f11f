// Package version implements the version command.
package version

import (
	"flag"

	"github.com/docfoundry/docfoundry/internal/cmd/base"
	"github.com/docfoundry/docfoundry/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return `Usage: docfoundry version

  Prints the CLI version.
`
}

func (c *Command) Flags() *flag.FlagSet {
	return flag.NewFlagSet("version", flag.ContinueOnError)
}

func (c *Command) Run(args []string) int {
	c.UI.Output(version.Version)
	return 0
}
