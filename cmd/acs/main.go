//
//  Copyright © Manetu Inc. All rights reserved.
//

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/JoshuaRamirez/ACS-sub003/cmd/acs/subcommands/serve"
	"github.com/JoshuaRamirez/ACS-sub003/cmd/acs/subcommands/verify"
	"github.com/JoshuaRamirez/ACS-sub003/cmd/acs/version"
)

func main() {
	cmd := &cli.Command{
		Name:  "acs",
		Usage: "A CLI application for running and operating the access control service",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Runs the access control service behind the REST gateway",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "The TCP port to serve on.",
						Value: 9000,
					},
					&cli.StringFlag{
						Name:    "seed",
						Aliases: []string{"s"},
						Usage:   "Apply an AccessSeed YAML fixture from `FILE` after startup.",
					},
					&cli.StringFlag{
						Name:  "audit-log",
						Usage: "Append audit records to `FILE` instead of stdout.",
					},
					&cli.StringFlag{
						Name:    "repository",
						Aliases: []string{"r"},
						Usage:   "The repository backend to use. Defaults to the configured repository.type.",
					},
				},
				Action: serve.Execute,
			},
			{
				Name:  "verify",
				Usage: "Verifies the hash chain of an exported audit trail",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Audit export (JSON) to verify, or '-' for stdin.",
						Required: true,
					},
				},
				Action: verify.Execute,
			},
			{
				Name:  "version",
				Usage: "Prints the version",
				Action: func(_ context.Context, _ *cli.Command) error {
					fmt.Println(version.GetVersion())
					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
