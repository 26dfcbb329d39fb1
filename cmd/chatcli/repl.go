package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/tbourn/go-chat-relay/internal/client"
)

// readPassword is replaced in tests to avoid touching the terminal.
var readPassword = term.ReadPassword

const helpText = `Commands:
  /login           log in (name and password are prompted)
  /logout          end the session
  /me              show who is logged in
  /upload <path>   upload a file, required once before chatting
  /attach <path>   attach an image or audio file to the next question
  /help            this text
  /quit            leave
Anything else is sent as a question.`

type app struct {
	api  *client.Client
	chat *client.Chat
	in   *bufio.Reader
	out  io.Writer

	pending []string
}

func (a *app) run(ctx context.Context) error {
	if sess, ok := a.api.Store.Current(); ok {
		// Refresh the upload flag; a revoked session drops back to login.
		if _, err := a.api.Me(ctx); err != nil && !client.IsStatus(err, http.StatusUnauthorized) {
			log.Debug().Err(err).Msg("session refresh")
		}
		fmt.Fprintf(a.out, "Welcome back, %s.\n", sess.Identity.Name)
	} else {
		fmt.Fprintln(a.out, "Not logged in. Type /login to start, /help for commands.")
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(a.out, a.prompt())
		line, err := a.in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			if quit := a.handle(ctx, line); quit {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (a *app) prompt() string {
	sess, ok := a.api.Store.Current()
	switch {
	case !ok:
		return "relay (anonymous)> "
	case !sess.Identity.HasUploaded:
		return fmt.Sprintf("relay (%s, upload required)> ", sess.Identity.Name)
	case len(a.pending) > 0:
		return fmt.Sprintf("relay (%s, %d attached)> ", sess.Identity.Name, len(a.pending))
	default:
		return fmt.Sprintf("relay (%s)> ", sess.Identity.Name)
	}
}

// handle runs one input line and reports whether the loop should stop.
func (a *app) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(a.out, helpText)
	case "/login":
		a.login(ctx)
	case "/logout":
		if err := a.api.Logout(ctx); err != nil {
			log.Debug().Err(err).Msg("logout")
		}
		a.pending = nil
		fmt.Fprintln(a.out, "Logged out.")
	case "/me":
		id, err := a.api.Me(ctx)
		if err != nil {
			a.report(err)
			return false
		}
		fmt.Fprintf(a.out, "%s (id %d), uploaded: %v\n", id.Name, id.ID, id.HasUploaded)
	case "/upload":
		a.upload(ctx, arg)
	case "/attach":
		a.attach(arg)
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Fprintf(a.out, "Unknown command %s. Type /help.\n", cmd)
			return false
		}
		a.ask(ctx, line)
	}
	return false
}

func (a *app) login(ctx context.Context) {
	fmt.Fprint(a.out, "Name: ")
	name, err := a.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		a.report(err)
		return
	}
	fmt.Fprint(a.out, "Password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(a.out)
	if err != nil {
		a.report(err)
		return
	}

	sess, err := a.api.Login(ctx, strings.TrimSpace(name), string(pw))
	if err != nil {
		a.report(err)
		return
	}
	if sess.Identity.HasUploaded {
		fmt.Fprintf(a.out, "Hello %s. Ask away.\n", sess.Identity.Name)
	} else {
		fmt.Fprintf(a.out, "Hello %s. Upload a file with /upload <path> to unlock the chat.\n", sess.Identity.Name)
	}
}

func (a *app) upload(ctx context.Context, path string) {
	if path == "" {
		fmt.Fprintln(a.out, "Usage: /upload <path>")
		return
	}
	res, err := a.api.Upload(ctx, path)
	if err != nil {
		a.report(err)
		return
	}
	fmt.Fprintf(a.out, "Uploaded (status %d). Chat unlocked.\n", res.Status)
	if len(res.Body) > 0 {
		fmt.Fprintln(a.out, strings.TrimSpace(string(res.Body)))
	}
}

func (a *app) attach(path string) {
	if path == "" {
		fmt.Fprintln(a.out, "Usage: /attach <path>")
		return
	}
	if _, err := os.Stat(path); err != nil {
		a.report(err)
		return
	}
	a.pending = append(a.pending, path)
}

func (a *app) ask(ctx context.Context, text string) {
	sess, ok := a.api.Store.Current()
	if !ok {
		fmt.Fprintln(a.out, "Log in first with /login.")
		return
	}
	if !sess.Identity.HasUploaded {
		fmt.Fprintln(a.out, "Upload a file with /upload <path> before chatting.")
		return
	}

	files := a.pending
	a.pending = nil
	msg, err := a.chat.Send(ctx, text, files)
	if msg.Content != "" {
		fmt.Fprintf(a.out, "AI: %s\n", msg.Content)
	}
	var ae *client.APIError
	switch {
	case errors.As(err, &ae) && ae.Code == "upload_required":
		_ = a.api.Store.SetHasUploaded(false)
		fmt.Fprintln(a.out, "The relay has no upload on record. Use /upload <path> first.")
	case err != nil:
		log.Debug().Err(err).Msg("ask")
	}
}

func (a *app) report(err error) {
	var ae *client.APIError
	switch {
	case errors.As(err, &ae) && ae.Message != "":
		fmt.Fprintf(a.out, "Error: %s\n", ae.Message)
	case errors.As(err, &ae):
		fmt.Fprintf(a.out, "Error: upstream replied %d %s\n", ae.Status, strings.TrimSpace(string(ae.Body)))
	case errors.Is(err, client.ErrAnonymous):
		fmt.Fprintln(a.out, "Log in first with /login.")
	default:
		fmt.Fprintf(a.out, "Error: %v\n", err)
	}
}
