package main

import (
	"os"

	"github.com/cernbox/griddav/griddav-cli/cmds"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "griddav-cli"
	app.Usage = "Use griddav-cli to work with files behind a griddav gateway"
	app.Version = "0.1.0"
	app.Commands = cmds.Commands
	app.Run(os.Args)
}
