// Command chatcli is a terminal client for the chat relay: log in, upload a
// file to unlock the chat, then ask questions with optional attachments.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-relay/internal/client"
	"github.com/tbourn/go-chat-relay/internal/sysutil"
)

func main() {
	base := flag.String("server", sysutil.FirstNonEmpty(os.Getenv("CHAT_RELAY_URL"), "http://localhost:8080"), "relay base URL")
	sessionPath := flag.String("session", sysutil.SessionFile(), "session file (empty keeps it in memory)")
	concurrent := flag.Bool("concurrent", false, "upload attachments concurrently")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	sysutil.InitLogger(os.Stderr, level, true)

	store, err := client.OpenSessionStore(*sessionPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *sessionPath).Msg("open session")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	api := client.New(*base, store)
	chat := client.NewChat(api)
	chat.Concurrent = *concurrent

	app := &app{api: api, chat: chat, in: bufio.NewReader(os.Stdin), out: os.Stdout}
	if err := app.run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
