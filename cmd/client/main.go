// Command client joins a room from the terminal, either presenting or
// viewing, and mirrors the session state, roster and chat to stdout.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Stage/internal/adapters/ws"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/session"
	"github.com/dkeye/Stage/internal/store"
	"github.com/dkeye/Stage/internal/tokens"
)

func main() {
	var (
		server  = pflag.String("server", "http://localhost:8080", "control-plane base URL")
		wsURL   = pflag.String("ws", "", "signaling URL (defaults to --server with ws scheme)")
		room    = pflag.String("room", "", "room to join")
		role    = pflag.String("role", "viewer", "presenter or viewer")
		name    = pflag.String("name", "", "display name")
		verbose = pflag.BoolP("verbose", "v", false, "debug logging")
	)
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *room == "" {
		fmt.Fprintln(os.Stderr, "--room is required")
		pflag.Usage()
		os.Exit(2)
	}
	r := domain.Role(*role)
	if !r.Valid() {
		fmt.Fprintln(os.Stderr, "--role must be presenter or viewer")
		os.Exit(2)
	}
	if *name == "" {
		*name = "guest"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Endpoint preference: explicit flag, then the configuration store,
	// then the control-plane address with the scheme swapped.
	endpoint := *wsURL
	if endpoint == "" {
		if settings, err := store.NewClient(*server).Read(ctx); err == nil && settings.Configured && settings.URL != "" {
			endpoint = settings.URL
		} else if err != nil {
			log.Debug().Err(err).Msg("config store unavailable")
		}
	}
	if endpoint == "" {
		endpoint = strings.Replace(*server, "http", "ws", 1)
	}

	var (
		lastState domain.SessionState = -1
		seenMsgs  int
	)
	ctl := session.New(session.Config{
		RoomID:      domain.RoomID(*room),
		Role:        r,
		DisplayName: *name,
		ServerURL:   endpoint,
	}, session.Deps{
		Transport: ws.NewClient(),
		Issuer:    tokens.NewHTTPIssuer(*server, *name),
		OnChange: func(s session.Snapshot) {
			if s.State != lastState {
				lastState = s.State
				fmt.Printf("* %s", s.State)
				if s.InLobby {
					fmt.Print(" (waiting for presenter)")
				}
				fmt.Println()
			}
			for _, m := range s.Messages[seenMsgs:] {
				if m.Kind == domain.KindSystem {
					fmt.Printf("-- %s\n", m.Text)
				} else {
					fmt.Printf("<%s> %s\n", m.Sender, m.Text)
				}
			}
			seenMsgs = len(s.Messages)
		},
	})
	defer ctl.Close()

	if err := ctl.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("connect failed")
		os.Exit(1)
	}
	fmt.Printf("joined %s as %s (%s). /help for commands.\n", *room, *name, r)

	go func() {
		<-ctx.Done()
		ctl.Leave()
		os.Exit(0)
	}()

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/help":
			fmt.Println("/roster /mute /unmute /share /unshare /rejoin /restart-audio /leave  — anything else is chat")
		case line == "/roster":
			for _, e := range ctl.Snapshot().Roster {
				flags := string(e.Role)
				if e.IsLocal {
					flags += ", you"
				}
				if e.Membership == domain.MemberGrace {
					flags += ", reconnecting"
				}
				fmt.Printf("  %s (%s)\n", e.DisplayName, flags)
			}
		case line == "/mute":
			ctl.SetMicrophoneEnabled(ctx, false)
		case line == "/unmute":
			ctl.SetMicrophoneEnabled(ctx, true)
		case line == "/share" || line == "/unshare":
			if err := ctl.SetScreenShareEnabled(ctx, line == "/share"); err != nil {
				fmt.Println("!", err)
			}
		case line == "/rejoin":
			if err := ctl.Rejoin(ctx); err != nil {
				fmt.Println("!", err)
			}
		case line == "/restart-audio":
			if err := ctl.RestartAudio(ctx); err != nil {
				fmt.Println("!", err)
			}
		case line == "/leave":
			ctl.Leave()
			return
		default:
			if err := ctl.SendChat(line); err != nil {
				fmt.Println("!", err)
			}
		}
	}
}
