/*
Package main is the terminal client for the peerchat system.

It connects to a rendezvous server, joins with a display name, and exposes the
chat operations as slash commands: rooms, direct messages with automatic
direct-channel upgrade, and chunked file transfer.
*/
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"peerchat/internal/client"
	"peerchat/internal/history"
	"peerchat/internal/pkg/logx"
)

var (
	flagServer  string
	flagName    string
	flagUserID  string
	flagHistory string
	flagDir     string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "peerchat-client",
	Short: "Terminal client for the peerchat rendezvous server",
	Long: `Connects to a peerchat rendezvous server and drives the chat protocol from
the terminal: join rooms, message users directly over a peer channel with
automatic relay fallback, and transfer files in chunks.

Type /help after connecting for the command list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagServer, "server", "s", "ws://localhost:8080", "rendezvous server URL")
	rootCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name (required)")
	rootCmd.Flags().StringVar(&flagUserID, "user-id", "", "previous identity to rebind after a reconnect")
	rootCmd.Flags().StringVar(&flagHistory, "history", "", "path to the local history database (empty disables persistence)")
	rootCmd.Flags().StringVar(&flagDir, "download-dir", ".", "directory for received files")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.MarkFlagRequired("name")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logx.InitGlobalLogger(flagVerbose)

	hist := history.Store(history.Nop{})
	if flagHistory != "" {
		s, err := history.OpenSQLite(flagHistory)
		if err != nil {
			return err
		}
		hist = s
	}

	console := NewConsole(flagDir)
	gw := client.New(client.Options{
		ServerURL: flagServer,
		Name:      flagName,
		UserID:    flagUserID,
		History:   hist,
		Notifier:  console,
	})

	if err := gw.Connect(ctx); err != nil {
		return err
	}
	defer gw.Close()

	fmt.Printf("connected as %s (%s). /help for commands.\n", flagName, gw.UserID())

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := dispatch(ctx, gw, console, line); quit {
				return nil
			}
		}
	}
}

func dispatch(ctx context.Context, gw *client.Gateway, console *Console, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	var err error
	switch cmd {
	case "/help":
		printHelp()

	case "/quit":
		return true

	case "/users":
		console.PrintUsers()

	case "/rooms":
		console.PrintRooms()

	case "/nick":
		if len(args) < 1 {
			err = fmt.Errorf("usage: /nick <name>")
			break
		}
		err = gw.UpdateProfile(strings.Join(args, " "), "")

	case "/create":
		if len(args) < 1 {
			err = fmt.Errorf("usage: /create <name> [pin]")
			break
		}
		pin := ""
		name := strings.Join(args, " ")
		if len(args) > 1 {
			pin = args[len(args)-1]
			name = strings.Join(args[:len(args)-1], " ")
		}
		err = gw.CreateRoom(name, pin != "", pin)

	case "/join":
		if len(args) < 1 {
			err = fmt.Errorf("usage: /join <roomId> [pin]")
			break
		}
		pin := ""
		if len(args) > 1 {
			pin = args[1]
		}
		err = gw.JoinRoom(args[0], pin)

	case "/joinpin":
		if len(args) != 1 {
			err = fmt.Errorf("usage: /joinpin <pin>")
			break
		}
		err = gw.JoinRoomByPin(args[0])

	case "/leave":
		if len(args) != 1 {
			err = fmt.Errorf("usage: /leave <roomId>")
			break
		}
		err = gw.LeaveRoom(args[0])

	case "/kick":
		if len(args) != 2 {
			err = fmt.Errorf("usage: /kick <roomId> <userId>")
			break
		}
		err = gw.Kick(args[0], args[1])

	case "/room":
		if len(args) < 2 {
			err = fmt.Errorf("usage: /room <roomId> <text>")
			break
		}
		_, err = gw.SendRoomMessage(args[0], strings.Join(args[1:], " "))

	case "/dm":
		if len(args) < 2 {
			err = fmt.Errorf("usage: /dm <userId> <text>")
			break
		}
		_, err = gw.SendPeerMessage(args[0], strings.Join(args[1:], " "))

	case "/edit":
		if len(args) < 3 {
			err = fmt.Errorf("usage: /edit <userId> <messageId> <text>")
			break
		}
		err = gw.EditPeerMessage(args[0], args[1], strings.Join(args[2:], " "))

	case "/del":
		if len(args) != 2 {
			err = fmt.Errorf("usage: /del <userId> <messageId>")
			break
		}
		err = gw.DeletePeerMessage(args[0], args[1])

	case "/react":
		if len(args) != 3 {
			err = fmt.Errorf("usage: /react <userId> <messageId> <emoji>")
			break
		}
		err = gw.TogglePeerReaction(args[0], args[1], args[2])

	case "/dial":
		if len(args) != 1 {
			err = fmt.Errorf("usage: /dial <userId>")
			break
		}
		err = gw.DialPeer(args[0])

	case "/link":
		if len(args) != 1 {
			err = fmt.Errorf("usage: /link <userId>")
			break
		}
		fmt.Printf("peer %s: %s\n", args[0], gw.PeerLinkState(args[0]))

	case "/sendfile":
		if len(args) != 2 {
			err = fmt.Errorf("usage: /sendfile <userId> <path>")
			break
		}
		err = sendFile(ctx, gw, args[0], args[1])

	case "/log":
		if len(args) != 1 {
			err = fmt.Errorf("usage: /log <roomId|userId>")
			break
		}
		printTimeline(gw, args[0])

	default:
		err = fmt.Errorf("unknown command %q, /help for the list", cmd)
	}

	if err != nil {
		fmt.Printf("! %v\n", err)
	}
	return false
}

func sendFile(ctx context.Context, gw *client.Gateway, target, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fmt.Printf("* sending %s (%d bytes) to %s...\n", path, len(data), target)
	fileID, err := gw.SendFile(ctx, target, filepath.Base(path), data)
	if err != nil {
		return err
	}
	fmt.Printf("* transfer %s complete\n", fileID)
	return nil
}

func printTimeline(gw *client.Gateway, chatID string) {
	msgs := gw.Messages(chatID)
	if len(msgs) == 0 {
		fmt.Println("no messages")
		return
	}
	for _, m := range msgs {
		suffix := ""
		if m.Edited {
			suffix = " (edited)"
		}
		fmt.Printf("  [%s] %s: %s%s\n", m.ID, m.SenderID, m.Text, suffix)
	}
}

func printHelp() {
	fmt.Print(`commands:
  /users                          list online users
  /rooms                          list rooms
  /nick <name>                    change display name
  /create <name> [pin]            create a room (pin makes it private)
  /join <roomId> [pin]            join a room
  /joinpin <pin>                  join a private room by pin
  /leave <roomId>                 leave a room
  /kick <roomId> <userId>         remove a member (room lead only)
  /room <roomId> <text>           message a room
  /dm <userId> <text>             message a user directly
  /edit <userId> <msgId> <text>   edit a direct message
  /del <userId> <msgId>           delete a direct message
  /react <userId> <msgId> <emoji> toggle a reaction
  /dial <userId>                  open a direct peer channel
  /link <userId>                  show the peer channel state
  /sendfile <userId> <path>       send a file
  /log <roomId|userId>            show the message timeline
  /quit                           exit
`)
}
