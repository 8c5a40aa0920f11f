package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/docfoundry/docfoundry/internal/cmd/base"
	"github.com/docfoundry/docfoundry/internal/cmd/commands/index"
	"github.com/docfoundry/docfoundry/internal/cmd/commands/serve"
	versioncmd "github.com/docfoundry/docfoundry/internal/cmd/commands/version"
)

// Commands is the mapping of all available CLI commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	Commands = map[string]cli.CommandFactory{
		"serve": func() (cli.Command, error) {
			return &serve.Command{
				Command: &base.Command{UI: ui, Log: log.Named("serve")},
			}, nil
		},
		"index": func() (cli.Command, error) {
			return &index.Command{
				Command: &base.Command{UI: ui, Log: log.Named("index")},
			}, nil
		},
		"version": func() (cli.Command, error) {
			return &versioncmd.Command{
				Command: &base.Command{UI: ui, Log: log},
			}, nil
		},
	}
}
