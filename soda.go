package main

import (
	"fmt"
	"os"

	"github.com/ksco/soda/pkg/converter"
	"github.com/ksco/soda/pkg/stub"
	"github.com/ksco/soda/pkg/utils"
	"github.com/urfave/cli/v2"
)

var version string

func main() {
	var verbosity int

	cli.VersionFlag = &cli.BoolFlag{Name: "version", Usage: "print the version"}

	app := cli.NewApp()
	app.Name = "soda"
	app.Usage = "turn a shared library into a lazily bound relocatable object"
	app.Description = fmt.Sprintf("supported targets: %v", stub.Names())
	app.Version = version
	if app.Version == "" {
		app.Version = "dev"
	}
	app.ArgsUsage = "INPUT.so"
	app.UseShortOptionHandling = true
	app.HideHelpCommand = true
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write the object to `PATH`"},
		&cli.BoolFlag{Name: "archive", Aliases: []string{"a"}, Usage: "also write lib<name>.a next to the object"},
		&cli.BoolFlag{Name: "verbosity", Aliases: []string{"v"}, Usage: "log more, repeat for debug and trace", Count: &verbosity},
	}
	app.Action = func(c *cli.Context) error {
		utils.SetLogLevel(verbosity)
		if c.NArg() != 1 {
			return fmt.Errorf("expected one input library, got %d", c.NArg())
		}

		_, err := converter.Run(converter.ContextArg{
			Input:   c.Args().First(),
			Output:  c.String("output"),
			Archive: c.Bool("archive"),
		})
		return err
	}

	if err := app.Run(os.Args); err != nil {
		utils.Fatal(err)
	}
}
