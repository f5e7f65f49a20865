package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tamsinv/parley/internal/config"
	"github.com/tamsinv/parley/internal/domain"
	"github.com/tamsinv/parley/internal/session"
	"github.com/tamsinv/parley/internal/store"
	"github.com/tamsinv/parley/internal/transport/ws"
)

func newChatCmd() *cobra.Command {
	var (
		endpoint string
		token    string
		contact  string
		name     string
		local    bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Connects to a chat endpoint and runs an interactive session on stdin.

Type a message and press enter to send it. Commands:
  /earlier   load the previous transcript page
  /quit      end the chat and exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			url := endpoint
			if url == "" {
				url = cfg.Endpoint.URL
			}
			if local {
				sim := ws.NewSimulator(ws.SimulatorConfig{AutoReply: true, ReplyDelay: time.Second}, log)
				if err := sim.Start("127.0.0.1:0"); err != nil {
					return fmt.Errorf("start local endpoint: %w", err)
				}
				defer sim.Stop(context.Background())
				url = sim.URL()
				fmt.Printf("local endpoint at %s\n", url)
			}
			if url == "" {
				return fmt.Errorf("no endpoint: set endpoint.url in config, pass --endpoint, or use --local")
			}
			effective := cfg
			effective.Endpoint.URL = url
			if err := config.Validate(effective); err != nil {
				return err
			}

			if token == "" {
				token = cfg.Endpoint.Token
			}
			if contact == "" {
				contact = uuid.NewString()
			}
			if name == "" {
				name = cfg.Session.DisplayName
			}
			self := domain.Participant{ID: uuid.NewString(), DisplayName: name}

			client := ws.NewClient(ws.Config{
				URL:         url,
				Token:       token,
				ContactID:   contact,
				Participant: self,
			}, log)

			ctrl := session.New(session.Options{
				Transport: client,
				ContactID: contact,
				Self:      self,
				PageSize:  cfg.Session.PageSize,
				TypingTTL: time.Duration(cfg.Session.TypingTTLSeconds) * time.Second,
				Logger:    log,
				Callbacks: session.Callbacks{
					Incoming:             printItem,
					Outgoing:             printItem,
					TypingChanged:        printTyping,
					ContactStatusChanged: printStatus,
					ChatClosed:           stop,
				},
			})

			if err := ctrl.Open(ctx); err != nil {
				return fmt.Errorf("open session: %w", err)
			}

			lines := make(chan string)
			go func() {
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					lines <- sc.Text()
				}
				close(lines)
			}()

		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case line, ok := <-lines:
					if !ok {
						break loop
					}
					switch strings.TrimSpace(line) {
					case "":
					case "/quit":
						break loop
					case "/earlier":
						ctrl.LoadEarlierMessages(ctx)
					default:
						ctrl.SendMessage(ctx, domain.ContentTypeTextPlain, line)
					}
				}
			}

			endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			ctrl.EndChat(endCtx)

			if cfg.Archive.Enabled {
				if err := archiveTranscript(contact, self, ctrl.Transcript()); err != nil {
					log.Warn().Err(err).Msg("archive transcript")
				} else {
					fmt.Printf("transcript archived to %s\n", cfg.Archive.Path)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "chat endpoint URL (overrides config)")
	cmd.Flags().StringVar(&token, "token", "", "participant token (overrides config)")
	cmd.Flags().StringVar(&contact, "contact", "", "contact ID to resume (default: new contact)")
	cmd.Flags().StringVar(&name, "name", "", "display name (overrides config)")
	cmd.Flags().BoolVar(&local, "local", false, "run against an in-process loopback endpoint")

	return cmd
}

func archiveTranscript(contactID string, self domain.Participant, items []domain.TranscriptItem) error {
	db, err := store.Open(cfg.Archive.Path, log)
	if err != nil {
		return err
	}
	defer db.Close()
	return store.NewArchive(db).Save(contactID, self, items)
}

func printItem(it domain.TranscriptItem) {
	who := it.DisplayName
	if who == "" {
		who = it.ParticipantID
	}
	switch it.Kind {
	case domain.KindAttachment:
		filename := ""
		if it.Attachment != nil {
			filename = it.Attachment.Filename
		}
		fmt.Printf("%s sent an attachment: %s\n", who, filename)
	case domain.KindEvent:
		fmt.Printf("* %s: %s\n", who, it.ContentType)
	default:
		fmt.Printf("%s: %s\n", who, it.Content)
	}
}

func printTyping(participants []string) {
	if len(participants) == 0 {
		return
	}
	fmt.Printf("… %s typing\n", strings.Join(participants, ", "))
}

func printStatus(status domain.ContactStatus) {
	fmt.Printf("[%s]\n", status)
}
