// Package console is the interactive terminal front end for a persona chat
// session: it streams assistant tokens to stdout as they arrive and exposes
// insight and context operations as slash commands.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/brandloom/personachat/pkg/api"
	"github.com/brandloom/personachat/pkg/chat"
	"github.com/brandloom/personachat/pkg/insights"
	"github.com/brandloom/personachat/pkg/knowledge"
	"github.com/brandloom/personachat/pkg/logger"
	"github.com/brandloom/personachat/pkg/stream"
)

// Runner drives one interactive chat session
type Runner struct {
	session   *chat.Session
	insights  *insights.Coordinator
	knowledge *knowledge.Manager
	client    *api.Client
	personaID string

	styles Styles
	in     io.Reader
	out    io.Writer
}

// NewRunner wires a runner against the given server and persona
func NewRunner(serverURL, personaID string) *Runner {
	client := api.NewClient(serverURL)
	transport := stream.NewTransport(serverURL)

	return &Runner{
		session:   chat.NewSession(personaID, client, transport),
		client:    client,
		personaID: personaID,
		styles:    DefaultStyles(),
		in:        os.Stdin,
		out:       os.Stdout,
	}
}

// Run opens the session and enters the interactive loop. SIGINT while a
// response is streaming soft-cancels the turn; at the prompt it exits.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.session.Open(ctx); err != nil {
		return err
	}

	sessionID := r.session.SessionID()
	r.insights = insights.NewCoordinator(r.personaID, sessionID, r.client)
	r.knowledge = knowledge.NewManager(r.personaID, sessionID, r.client)
	if err := r.insights.Refresh(ctx); err != nil {
		logger.Warn("initial insight fetch failed: %v", err)
	}

	fmt.Fprintln(r.out, r.styles.Banner.Render(
		fmt.Sprintf("Connected to persona %q (session %s). Type /help for commands.", r.personaID, sessionID)))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	r.session.SetTokenCallback(func(fragment string) {
		fmt.Fprint(r.out, fragment)
	})

	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, r.styles.Prompt.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := r.runCommand(ctx, line); quit {
				return nil
			}
			continue
		}

		r.sendAndWait(ctx, line, stop)
	}
}

func (r *Runner) sendAndWait(ctx context.Context, text string, stop <-chan os.Signal) {
	if r.session.Thread().NearLimit() && !r.session.Thread().AtLimit() {
		fmt.Fprintln(r.out, r.styles.Warning.Render(
			fmt.Sprintf("Approaching the %d-message session limit.", chat.MaxSessionMessages)))
	}

	results, err := r.session.Send(ctx, text)
	if err != nil {
		if errors.Is(err, chat.ErrMessageLimit) {
			fmt.Fprintln(r.out, r.styles.Error.Render(
				"This session has reached its message limit. Use /reset to start over."))
			return
		}
		fmt.Fprintln(r.out, r.styles.Error.Render("Send failed: "+err.Error()))
		return
	}

	fmt.Fprint(r.out, r.styles.Persona.Render(r.personaID+"> "))

	select {
	case res := <-results:
		fmt.Fprintln(r.out)
		switch {
		case res.Stopped:
			fmt.Fprintln(r.out, r.styles.Muted.Render("[stopped]"))
		case res.Err != nil:
			fmt.Fprintln(r.out, r.styles.Error.Render("Turn failed: "+res.Err.Error()))
			fmt.Fprintln(r.out, r.styles.Muted.Render("Use /retry to resend your last message."))
		default:
			if res.Message.Usage != nil {
				fmt.Fprintln(r.out, r.styles.Usage.Render(fmt.Sprintf(
					"[%s · %d prompt / %d completion tokens]",
					res.Message.ID, res.Message.Usage.PromptTokens, res.Message.Usage.CompletionTokens)))
			}
		}
	case <-stop:
		r.session.Stop()
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, r.styles.Muted.Render("[stopped]"))
	}
}

// runCommand handles a slash command; returns true when the loop should exit
func (r *Runner) runCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		r.printHelp()

	case "/retry":
		r.retry(ctx)

	case "/reset":
		r.session.Reset()
		if err := r.session.Open(ctx); err != nil {
			fmt.Fprintln(r.out, r.styles.Error.Render("Restart failed: "+err.Error()))
			return false
		}
		sessionID := r.session.SessionID()
		r.insights = insights.NewCoordinator(r.personaID, sessionID, r.client)
		r.knowledge = knowledge.NewManager(r.personaID, sessionID, r.client)
		fmt.Fprintln(r.out, r.styles.Banner.Render("Session reset. New session: "+sessionID))

	case "/messages":
		for _, msg := range r.session.Thread().Messages() {
			fmt.Fprintln(r.out, r.styles.ListItem.Render(
				fmt.Sprintf("%-9s %s  %s", msg.Role, msg.ID, truncate(msg.Content, 60))))
		}

	case "/insight":
		if len(args) != 1 {
			fmt.Fprintln(r.out, r.styles.Muted.Render("usage: /insight <message-id>"))
			return false
		}
		r.generateInsight(ctx, args[0])

	case "/insights":
		for _, in := range r.insights.Insights() {
			fmt.Fprintln(r.out, r.styles.ListItem.Render(
				fmt.Sprintf("%s  %s  %s", in.ID, r.styles.Insight.Render(in.Title), truncate(in.Content, 50))))
		}

	case "/context":
		r.showContext(ctx)

	case "/attach":
		r.attachContext(ctx, args)

	case "/detach":
		if len(args) != 1 {
			fmt.Fprintln(r.out, r.styles.Muted.Render("usage: /detach <item-id>"))
			return false
		}
		if err := r.knowledge.Remove(ctx, args[0]); err != nil {
			fmt.Fprintln(r.out, r.styles.Error.Render("Detach failed: "+err.Error()))
		}

	default:
		fmt.Fprintln(r.out, r.styles.Muted.Render("Unknown command. Type /help."))
	}
	return false
}

func (r *Runner) retry(ctx context.Context) {
	if r.session.Thread().LastError() == "" {
		fmt.Fprintln(r.out, r.styles.Muted.Render("Nothing to retry."))
		return
	}

	results, err := r.session.Retry(ctx)
	if err != nil {
		fmt.Fprintln(r.out, r.styles.Error.Render("Retry failed: "+err.Error()))
		return
	}
	fmt.Fprint(r.out, r.styles.Persona.Render(r.personaID+"> "))
	res := <-results
	fmt.Fprintln(r.out)
	if res.Err != nil {
		fmt.Fprintln(r.out, r.styles.Error.Render("Turn failed: "+res.Err.Error()))
	}
}

func (r *Runner) generateInsight(ctx context.Context, messageID string) {
	insight, err := r.insights.Generate(ctx, messageID)
	switch {
	case errors.Is(err, insights.ErrUnresolvedMessage):
		fmt.Fprintln(r.out, r.styles.Error.Render("That message has not been saved yet."))
	case errors.Is(err, insights.ErrInsightExists):
		fmt.Fprintln(r.out, r.styles.Muted.Render("An insight already exists for that message."))
	case errors.Is(err, insights.ErrExtractionInFlight):
		fmt.Fprintln(r.out, r.styles.Muted.Render("Another extraction is still running."))
	case err != nil:
		fmt.Fprintln(r.out, r.styles.Error.Render("Extraction failed: "+err.Error()))
	default:
		fmt.Fprintln(r.out, r.styles.Insight.Render(insight.Title))
		fmt.Fprintln(r.out, r.styles.ListItem.Render(insight.Content))
	}
}

func (r *Runner) showContext(ctx context.Context) {
	if err := r.knowledge.Refresh(ctx); err != nil {
		fmt.Fprintln(r.out, r.styles.Error.Render("Context fetch failed: "+err.Error()))
		return
	}
	items := r.knowledge.Items()
	if len(items) == 0 {
		fmt.Fprintln(r.out, r.styles.Muted.Render("No context attached."))
		return
	}
	for _, item := range items {
		fmt.Fprintln(r.out, r.styles.ListItem.Render(
			fmt.Sprintf("%s  %s (%s)", item.ID, item.SourceName, item.SourceType)))
	}
}

func (r *Runner) attachContext(ctx context.Context, ids []string) {
	available, err := r.knowledge.Available(ctx)
	if err != nil {
		fmt.Fprintln(r.out, r.styles.Error.Render("Catalogue fetch failed: "+err.Error()))
		return
	}

	if len(ids) == 0 {
		fmt.Fprintln(r.out, r.styles.Banner.Render("Available context:"))
		for _, item := range available {
			fmt.Fprintln(r.out, r.styles.ListItem.Render(
				fmt.Sprintf("%s  %s (%s)", item.ID, item.SourceName, item.SourceType)))
		}
		fmt.Fprintln(r.out, r.styles.Muted.Render("usage: /attach <item-id> [item-id ...]"))
		return
	}

	var selection []api.ContextItem
	for _, id := range ids {
		for _, item := range available {
			if item.ID == id {
				selection = append(selection, item)
				break
			}
		}
	}
	if len(selection) != len(ids) {
		fmt.Fprintln(r.out, r.styles.Error.Render("One or more items are not in the catalogue; nothing attached."))
		return
	}

	if err := r.knowledge.ApplySelection(ctx, selection); err != nil {
		fmt.Fprintln(r.out, r.styles.Error.Render("Attach failed: "+err.Error()))
		return
	}
	fmt.Fprintln(r.out, r.styles.Banner.Render(fmt.Sprintf("Attached %d item(s).", len(selection))))
}

func (r *Runner) printHelp() {
	help := []string{
		"/messages            list the transcript with message ids",
		"/insight <id>        extract an insight from an assistant message",
		"/insights            list extracted insights",
		"/context             show attached context",
		"/attach [ids...]     attach context items (no args lists the catalogue)",
		"/detach <id>         remove a context item",
		"/retry               resend the last message after a failure",
		"/reset               start a fresh session",
		"/quit                exit",
	}
	for _, line := range help {
		fmt.Fprintln(r.out, r.styles.Muted.Render(line))
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
