package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mdp/qrterminal/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"teamly-chat/chatsync"
	"teamly-chat/handlers"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Avvia il server HTTP con API REST e vista chat WebSocket",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Porta del server (sovrascrive la configurazione)",
			},
			&cli.BoolFlag{
				Name:  "qr",
				Usage: "Stampa un QR code con l'indirizzo del server",
			},
		},
		Action: func(c *cli.Context) error {
			config := configFrom(c)
			if c.IsSet("port") {
				config.Server.Port = c.Int("port")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			source, closeBackend, err := openBackend(ctx, config.Backend)
			if err != nil {
				return err
			}
			defer closeBackend()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics := chatsync.NewMetrics()
			if err := metrics.Register(reg); err != nil {
				return err
			}

			gin.SetMode(gin.ReleaseMode)
			router := gin.New()
			router.Use(gin.Recovery())
			h := handlers.NewChatHandler(source, config.Sync.SyncOptions(), config.Sync.ViewOptions(), metrics)
			handlers.SetupAPIRoutes(router, h, reg)

			server := &http.Server{
				Addr:    fmt.Sprintf(":%d", config.Server.Port),
				Handler: router,
			}

			// Avvia il server HTTP in una goroutine
			errCh := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			publicURL := config.Server.PublicURL
			if publicURL == "" {
				publicURL = fmt.Sprintf("http://localhost:%d", config.Server.Port)
			}
			log.Info().Str("url", publicURL).Msg("🚀 Server avviato")
			if c.Bool("qr") {
				qrterminal.GenerateHalfBlock(publicURL, qrterminal.L, os.Stdout)
			}

			// Gestisci chiusura corretta
			select {
			case <-ctx.Done():
			case err := <-errCh:
				return fmt.Errorf("errore nell'avvio del server: %w", err)
			}

			log.Info().Msg("Spegnimento del server...")
			handlers.CloseAllClients("shutdown")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
