package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"teamly-chat/utils"
)

const version = "0.3.0"

func main() {
	app := &cli.App{
		Name:    "teamly-chat",
		Usage:   "Chat di team sincronizzata tramite polling",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Carica la configurazione da `FILE`",
				EnvVars: []string{"TEAMLY_CONFIG"},
			},
		},
		Before: func(c *cli.Context) error {
			// .env è opzionale
			_ = godotenv.Load()

			config, err := utils.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if err := utils.Validate(config); err != nil {
				return fmt.Errorf("configurazione non valida: %w", err)
			}
			setupLogger(config.Log)
			c.App.Metadata = map[string]interface{}{"config": config}
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			tailCommand(),
			migrateCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Errore: %s\n", err)
		os.Exit(1)
	}
}

func configFrom(c *cli.Context) *utils.Config {
	return c.App.Metadata["config"].(*utils.Config)
}

func setupLogger(cfg utils.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}
