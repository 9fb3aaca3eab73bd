package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/urfave/cli/v2"

	"teamly-chat/chatsync"
	"teamly-chat/viewmodel"
)

func tailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Segue una conversazione nel terminale e invia le righe lette da stdin",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "conversation",
				Aliases:  []string{"t"},
				Usage:    "ID della conversazione (team)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "ID dell'utente che invia i messaggi",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			config := configFrom(c)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			source, closeBackend, err := openBackend(ctx, config.Backend)
			if err != nil {
				return err
			}
			defer closeBackend()

			syncer := chatsync.NewSynchronizer(source, config.Sync.SyncOptions(), nil)
			viewOpts := config.Sync.ViewOptions()
			viewOpts.SenderID = c.String("user")
			vm := viewmodel.New(syncer, source, &terminalRenderer{out: os.Stdout}, viewOpts)
			defer func() {
				vm.Close()
				<-syncer.Done()
			}()

			if err := vm.Open(ctx, c.String("conversation")); err != nil {
				fmt.Fprintln(os.Stdout, "Scrivi /reload per riprovare")
			}

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if quit := handleInput(ctx, vm, line, os.Stdout); quit {
						return nil
					}
				}
			}
		},
	}
}

// handleInput esegue un comando o invia la riga come messaggio.
// Restituisce true quando l'utente chiede di uscire.
func handleInput(ctx context.Context, vm *viewmodel.ChatViewModel, line string, out io.Writer) bool {
	switch strings.TrimSpace(line) {
	case "/quit":
		return true
	case "/reload":
		if err := vm.Reload(ctx); err != nil {
			fmt.Fprintf(out, "⚠️  Ricaricamento non riuscito: %v\n", err)
		}
		return false
	case "":
		return false
	}

	if _, err := vm.Send(ctx, line); err != nil {
		var sendErr *viewmodel.SendError
		if errors.As(err, &sendErr) {
			fmt.Fprintf(out, "❌ Messaggio non inviato (%v). Testo: %s\n", sendErr.Err, sendErr.Body)
		} else {
			fmt.Fprintf(out, "⚠️  %v\n", err)
		}
	}
	return false
}

// terminalRenderer stampa le righe della chat su un terminale.
// Un terminale è sempre in fondo, quindi ScrollToBottom viene ignorato.
type terminalRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

func (r *terminalRenderer) Render(update viewmodel.RowUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch update.Kind {
	case viewmodel.UpdateReplaceAll:
		fmt.Fprintf(r.out, "💬 Conversazione %s (%d messaggi)\n", update.ConversationID, len(update.Rows))
		r.printRows(update.Rows)
	case viewmodel.UpdateInsert:
		r.printRows(update.Rows)
	case viewmodel.UpdateAuthExpired:
		fmt.Fprintf(r.out, "🔒 Sessione scaduta: %s\n", update.Error)
	case viewmodel.UpdateLoadError:
		fmt.Fprintf(r.out, "❌ Caricamento non riuscito: %s\n", update.Error)
	}
}

func (r *terminalRenderer) printRows(rows []viewmodel.Row) {
	for _, row := range rows {
		if row.DayLabel != "" {
			fmt.Fprintf(r.out, "── %s ──\n", row.DayLabel)
		}
		sender := row.SenderID
		if row.IsOwn {
			sender = "tu"
		}
		fmt.Fprintf(r.out, "[%s] %s: %s\n", row.TimeLabel, sender, row.Body)
	}
}
