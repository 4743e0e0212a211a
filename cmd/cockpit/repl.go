package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/atinyakov/koracockpit/internal/client/storage"
	"github.com/atinyakov/koracockpit/internal/cockpit"
	"github.com/atinyakov/koracockpit/internal/models"
	"github.com/atinyakov/koracockpit/internal/view"
)

const helpText = `Available commands:
  login <operator|anchor> <password>   pilot sign-in
  signin <email> <password>            email sign-in
  register <email> <password> [name]   create an email account
  logout                               sign out
  views                                list the views of the current role
  show <view>                          switch view
  refresh                              reload user, wallet and panels
  post <path> <json>                   send a POST and refresh
  whoami                               show the session
  api-url [url]                        show or store the API URL override
  help, exit`

// shell is the interactive loop around an App.
type shell struct {
	app     *cockpit.App
	storage storage.Storage
	baseURL string
	out     io.Writer
}

// run reads commands from in until EOF, exit or ctx cancellation.
func (s *shell) run(ctx context.Context, in io.Reader) {
	s.render(ctx)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "kora> ")
		if !scanner.Scan() || ctx.Err() != nil {
			fmt.Fprintln(s.out)
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := s.exec(ctx, line); quit {
			return
		}
	}
}

// exec runs one command line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	args := strings.Fields(line)
	switch args[0] {
	case "help":
		fmt.Fprintln(s.out, helpText)
	case "login":
		if len(args) != 3 {
			fmt.Fprintln(s.out, "Usage: login <operator|anchor> <password>")
			return false
		}
		s.report(ctx, s.app.LoginPilot(ctx, models.Role(args[1]), args[2]))
	case "signin":
		if len(args) != 3 {
			fmt.Fprintln(s.out, "Usage: signin <email> <password>")
			return false
		}
		s.report(ctx, s.app.LoginEmail(ctx, args[1], args[2]))
	case "register":
		if len(args) < 3 {
			fmt.Fprintln(s.out, "Usage: register <email> <password> [name]")
			return false
		}
		s.report(ctx, s.app.Register(ctx, args[1], args[2], strings.Join(args[3:], " ")))
	case "logout":
		s.report(ctx, s.app.Logout(ctx))
	case "views", "nav":
		s.views()
	case "show":
		if len(args) != 2 {
			fmt.Fprintln(s.out, "Usage: show <view>")
			return false
		}
		v, err := view.Parse(args[1])
		if err != nil {
			fmt.Fprintln(s.out, err)
			return false
		}
		if _, ok := s.app.Screen(); !ok {
			fmt.Fprintln(s.out, "Sign in first.")
			return false
		}
		s.app.Navigate(v)
		s.render(ctx)
	case "refresh":
		s.app.GlobalRefresh(ctx)
		s.render(ctx)
	case "post":
		s.post(ctx, line)
	case "whoami":
		s.whoami()
	case "api-url":
		s.apiURL(ctx, args[1:])
	case "exit", "quit":
		fmt.Fprintln(s.out, "Bye")
		return true
	default:
		fmt.Fprintln(s.out, "Unknown command. Type 'help' for a list of commands.")
	}
	return false
}

func (s *shell) report(ctx context.Context, err error) {
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	s.render(ctx)
}

func (s *shell) render(ctx context.Context) {
	if err := s.app.Render(ctx, s.out); err != nil {
		fmt.Fprintf(s.out, "render failed: %v\n", err)
	}
}

func (s *shell) views() {
	items := s.app.Nav()
	if len(items) == 0 {
		for _, v := range view.All {
			fmt.Fprintf(s.out, "  %s\n", v)
		}
		return
	}
	current, _ := s.app.Screen()
	for _, it := range items {
		marker := " "
		if it.View == current {
			marker = "*"
		}
		fmt.Fprintf(s.out, "%s %-20s %s\n", marker, it.View, it.Label)
	}
}

func (s *shell) post(ctx context.Context, line string) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "post"))
	path, body, _ := strings.Cut(rest, " ")
	body = strings.TrimSpace(body)
	if path == "" {
		fmt.Fprintln(s.out, "Usage: post <path> <json>")
		return
	}
	if body == "" {
		body = "{}"
	}
	if !json.Valid([]byte(body)) {
		fmt.Fprintln(s.out, "Body is not valid JSON.")
		return
	}

	out, err := s.app.Post(ctx, path, json.RawMessage(body))
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if len(out) > 0 {
		fmt.Fprintf(s.out, "%s\n", out)
	}
	s.render(ctx)
}

func (s *shell) whoami() {
	sess := s.app.Session()
	if sess.IsAnonymous() {
		fmt.Fprintln(s.out, "Not signed in.")
		return
	}
	fmt.Fprintf(s.out, "user:   %s\nregion: %s (%s)\nrole:   %s\ntoken:  %t\napi:    %s\n",
		sess.UserID, sess.RegionID, cockpit.RegionLabel(sess.RegionID),
		roleLabel(sess.Role), sess.Token != "", s.baseURL)

	st := s.app.Status()
	if !st.LastSuccess.IsZero() {
		fmt.Fprintf(s.out, "synced: %s\n", st.LastSuccess.Format("15:04:05"))
	}
	if st.LastError != nil {
		fmt.Fprintf(s.out, "error:  %v\n", st.LastError)
	}
}

func (s *shell) apiURL(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, s.baseURL)
		return
	}
	if err := s.storage.Set(ctx, storage.KeyAPIURL, args[0]); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, "Saved. It is used on the next start unless -api is set.")
}

func roleLabel(r models.Role) string {
	if r == models.RoleUnset {
		return "(none)"
	}
	return string(r)
}
