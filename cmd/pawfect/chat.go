package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/go-go-golems/pawfect/pkg/chat"
	"github.com/go-go-golems/pawfect/pkg/chatclient"
	"github.com/go-go-golems/pawfect/pkg/config"
	"github.com/go-go-golems/pawfect/pkg/ui"
)

func newChatCommand(a *app) *cobra.Command {
	var (
		email    string
		password string
		logFile  string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Log in and open the chat: the widget for pet owners, the inbox for admins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.settings(cmd, map[string]string{
				"client.base-url":       "url",
				"client.typing-timeout": "typing-timeout",
			})
			if err != nil {
				return err
			}
			if email == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				password, err = promptPassword(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}
			restore, err := redirectLogs(logFile)
			if err != nil {
				return err
			}
			defer restore()
			return runChat(cmd.Context(), s.Client, email, password)
		},
	}
	f := cmd.Flags()
	f.StringVar(&email, "email", "", "account email")
	f.StringVar(&password, "password", "", "account password (prompted when empty)")
	f.StringVar(&logFile, "log-file", "", "write logs here while the chat is open (discarded when empty)")
	f.String("url", "http://localhost:8080", "backend base URL")
	f.Duration("typing-timeout", 0, "idle time after the last keystroke before stop_typing is sent")
	return cmd
}

func runChat(ctx context.Context, cs config.ClientSettings, email, password string) error {
	session, err := chatclient.NewSession(cs.BaseURL)
	if err != nil {
		return err
	}
	user, err := session.Login(ctx, email, password)
	if err != nil {
		return errors.Wrap(err, "login")
	}
	defer session.Logout(context.WithoutCancel(ctx))

	wsURL, err := chatclient.WSURL(cs.BaseURL)
	if err != nil {
		return err
	}
	transport, err := chatclient.DialWS(ctx, wsURL, session.Token())
	if err != nil {
		return err
	}
	defer func() { _ = transport.Close() }()

	viewer := chatclient.ViewerOf(user)
	api := chatclient.NewAPIClient(cs.BaseURL, session.HTTPClient())
	updates := ui.NewUpdates()

	var (
		surface ui.Surface
		title   string
	)
	switch user.Role {
	case chat.RoleAdmin:
		inbox, err := chatclient.NewInbox(chatclient.InboxConfig{
			Viewer:        viewer,
			API:           api,
			Transport:     transport,
			TypingTimeout: cs.TypingTimeout,
			OnChange:      func(s chatclient.InboxSnapshot) { updates.Push(ui.InboxState(s)) },
		})
		if err != nil {
			return err
		}
		defer inbox.Close()
		if err := inbox.Refresh(ctx); err != nil {
			return errors.Wrap(err, "load conversations")
		}
		if convs := inbox.Conversations(); len(convs) > 0 {
			if err := inbox.Select(ctx, convs[0].ConversationID); err != nil {
				log.Warn().Err(err).Int64("conv_id", convs[0].ConversationID).Msg("open first conversation failed")
			}
		}
		surface, title = inbox, "Pawfect inbox"
	default:
		widget, err := chatclient.NewWidget(chatclient.WidgetConfig{
			Viewer:        viewer,
			API:           api,
			Transport:     transport,
			TypingTimeout: cs.TypingTimeout,
			OnChange:      func(s chatclient.Snapshot) { updates.Push(ui.WidgetState(s)) },
		})
		if err != nil {
			return err
		}
		defer widget.Close()
		if err := widget.SetOpen(ctx, true); err != nil {
			return errors.Wrap(err, "open conversation")
		}
		surface, title = widget, "Chat with Pawfect"
	}

	p := tea.NewProgram(ui.NewModel(ctx, title, viewer, surface, updates), tea.WithAltScreen(), tea.WithContext(ctx))
	go func() {
		// a dropped socket ends the session
		select {
		case <-transport.Done():
			p.Quit()
		case <-ctx.Done():
		}
	}()
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	if err == nil && transport.Err() != nil {
		return errors.Wrap(transport.Err(), "connection lost")
	}
	return err
}

func promptPassword(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to prompt for a password; pass --password")
	}
	_, _ = fmt.Fprint(w, "Password: ")
	b, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(w)
	if err != nil {
		return "", errors.Wrap(err, "read password")
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// redirectLogs keeps log output off the screen while the TUI owns it.
func redirectLogs(path string) (func(), error) {
	prev := log.Logger
	restore := func() { log.Logger = prev }
	if path == "" {
		log.Logger = zerolog.Nop()
		return restore, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", path)
	}
	log.Logger = zerolog.New(f).With().Timestamp().Logger()
	return func() {
		restore()
		_ = f.Close()
	}, nil
}
