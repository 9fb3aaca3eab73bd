package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"teamly-chat/db"
	"teamly-chat/utils"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Applica le migration del database SQL",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "status",
				Usage: "Mostra solo le migration già applicate",
			},
		},
		Action: func(c *cli.Context) error {
			config := configFrom(c)
			if config.Backend.Kind != utils.BackendSQL {
				return fmt.Errorf("migrate richiede backend.kind = %q, configurato %q", utils.BackendSQL, config.Backend.Kind)
			}

			manager, err := db.NewSQLManager(config.Backend.Database.Driver, config.Backend.Database.GetDSN())
			if err != nil {
				return fmt.Errorf("errore nella connessione al database: %w", err)
			}
			defer manager.Close()

			if !c.Bool("status") {
				if _, err := manager.ApplyMigrations(c.Context); err != nil {
					return err
				}
			}

			applied, err := manager.GetAppliedMigrations(c.Context)
			if err != nil {
				return err
			}
			for _, m := range applied {
				fmt.Printf("%3d  %s\n", m.Version, m.Description)
			}
			return nil
		},
	}
}
