// Command metroctl is the operator tool for the metro simulation. It checks
// world configuration files before they are deployed and summarises saved
// sessions.
//
//	metroctl validate --dir configs
//	metroctl validate configs/delta.yaml
//	metroctl analyze --dir sessions ab12
//	metroctl analyze --json
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "metroctl",
		Usage: "inspect metro simulation configs and saved sessions",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "validate world configuration files",
				ArgsUsage: "[file ...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "dir",
						Aliases: []string{"d"},
						Value:   "configs",
						Usage:   "directory scanned when no files are given",
						Sources: cli.EnvVars("CONFIG_DIR"),
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					files := cmd.Args().Slice()
					if len(files) == 0 {
						var err error
						if files, err = configFiles(cmd.String("dir")); err != nil {
							return err
						}
					}
					return runValidate(cmd.Root().Writer, files)
				},
			},
			{
				Name:      "analyze",
				Usage:     "summarise saved sessions",
				ArgsUsage: "[session-id ...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "dir",
						Aliases: []string{"d"},
						Value:   "sessions",
						Usage:   "sessions directory",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "print reports as JSON",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runAnalyze(cmd.Root().Writer, cmd.String("dir"), cmd.Args().Slice(), cmd.Bool("json"))
				},
			},
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "metroctl:", err)
		os.Exit(1)
	}
}
