package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/rojolang/talker-go/pkg/talker"
)

const chatHelp = `Commands:
  /sessions         list sessions
  /new [title]      start a new session
  /switch <id>      switch to a session
  /delete <id>      delete a session
  /voice            record a voice turn, press Enter to send
  /retry            resend the last failed recording
  /quit             leave
Anything else is sent as a message.`

func chatCmd() *cobra.Command {
	var connect bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with the backend",
		Long:  "Chat with the talker backend from the terminal, by text or by voice",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := clientConfig()
			cfg.AutoConnect = false
			client, err := talker.NewClient(talker.ClientOptions{Config: cfg, Logger: logger()})
			if err != nil {
				logger().WithError(err).Fatal("Failed to create client")
			}
			defer client.Cleanup()

			offStatus := client.Push.AddConnectionHandler(talker.CreateConnectionStatusHandler(logger(), func(s talker.ConnectionState) {
				switch s {
				case talker.Reconnecting:
					fmt.Println("\n[push channel lost, reconnecting]")
				case talker.ErrorState:
					fmt.Println("\n[push channel down, replies come over REST]")
				}
			}))
			defer offStatus()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := client.WatchSettings(ctx); err != nil {
					logger().WithError(err).Debug("Settings watch ended")
				}
			}()

			if connect {
				err = client.Start(ctx)
			} else {
				err = client.Chat.LoadSessions(ctx)
			}
			if err != nil {
				logger().WithError(err).Fatal("Failed to load sessions")
			}

			off := client.Chat.OnAIMessage(func(m talker.Message) {
				fmt.Printf("\nAI: %s\n> ", m.Content)
			})
			defer off()

			runChat(ctx, client)
		},
	}

	cmd.Flags().BoolVarP(&connect, "push", "w", true, "Receive replies over the push channel")

	return cmd
}

func runChat(ctx context.Context, client *talker.Client) {
	state := client.Chat.Snapshot()
	if state.CurrentSessionID != "" {
		fmt.Printf("Session %s (%d messages)\n", state.CurrentSessionID, len(state.Messages))
	}
	fmt.Println(chatHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	recording := false
	for {
		fmt.Print("> ")
		var line string
		select {
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		case <-ctx.Done():
			fmt.Println()
			return
		}

		if recording {
			recording = false
			fmt.Println("Transcribing...")
			transcript, err := client.Voice.Stop(ctx)
			reportVoice(transcript, err)
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		var err error
		switch cmd {
		case "":
		case "/help":
			fmt.Println(chatHelp)
		case "/quit", "/exit":
			return
		case "/sessions":
			err = client.Chat.LoadSessions(ctx)
			if err == nil {
				printSessions(client.Chat.Snapshot())
			}
		case "/new":
			err = client.Chat.CreateSession(ctx, arg)
			if err == nil {
				fmt.Printf("Switched to %s\n", client.Chat.Snapshot().CurrentSessionID)
			}
		case "/switch":
			err = client.Chat.SwitchSession(ctx, arg)
			if err == nil {
				printHistory(client.Chat.Snapshot())
			}
		case "/delete":
			err = client.Chat.DeleteSession(ctx, arg)
		case "/voice":
			if err = client.Voice.Start(ctx); err == nil {
				recording = true
				fmt.Println("Recording... press Enter to send")
			}
		case "/retry":
			transcript, rerr := client.Voice.Retry(ctx)
			reportVoice(transcript, rerr)
		default:
			err = client.Chat.SendMessage(ctx, line)
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			client.Chat.ClearError()
		}
	}
}

func reportVoice(transcript string, err error) {
	switch {
	case err != nil:
		fmt.Printf("Voice turn failed: %v (use /retry)\n", err)
	case transcript == "":
		fmt.Println("Nothing was recorded")
	default:
		fmt.Printf("You: %s\n", transcript)
	}
}

func printSessions(state talker.ChatState) {
	if len(state.Sessions) == 0 {
		fmt.Println("No sessions yet")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "ID", "Title", "Messages", "Updated"})
	for _, s := range state.Sessions {
		marker := ""
		if s.ID == state.CurrentSessionID {
			marker = text.FgGreen.Sprint("*")
		}
		t.AppendRow(table.Row{marker, s.ID, s.Title, s.MessageCount, s.UpdatedAt.Local().Format("Jan 2 15:04")})
	}
	t.Render()
}

func printHistory(state talker.ChatState) {
	for _, m := range state.Messages {
		who := "You"
		if m.Type == talker.AIMessage {
			who = "AI"
		}
		fmt.Printf("%s: %s\n", who, m.Content)
	}
}
