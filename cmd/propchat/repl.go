package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"propchat/internal/domain"
	"propchat/internal/transport"
)

// ANSI styles used to render formatted reply segments in the terminal.
const (
	styleBold   = "\033[1m"
	styleItalic = "\033[3m"
	styleCode   = "\033[7m"
	styleDim    = "\033[2m"
	styleReset  = "\033[0m"
)

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadOrDefault()

	log := newLogger(cfg.General.LogLevel)
	logger = log

	svc, st, hub, err := buildService(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	defer hub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Print notices (transport failures, rate limiting) between turns.
	notices := hub.Subscribe()
	defer hub.Unsubscribe(notices)
	go func() {
		for n := range notices {
			fmt.Fprintf(os.Stderr, "%s[%s] %s%s\n", styleDim, n.Level, n.Message, styleReset)
		}
	}()

	user := domain.ChatUser{ID: "cli", Email: os.Getenv("PROPCHAT_EMAIL")}
	conversationID := ""

	out := os.Stdout
	fmt.Fprintln(out, "PropChat terminal. Type your message and press Enter. Type /quit to exit.")
	fmt.Fprint(out, "You> ")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			return nil
		}
		if line == "/new" {
			conversationID = ""
			fmt.Fprintln(out, "(started a new conversation)")
			fmt.Fprint(out, "You> ")
			continue
		}

		res, err := svc.HandleMessage(ctx, user, conversationID, line)
		if err != nil && res == nil {
			switch {
			case errors.Is(err, transport.ErrRateLimited):
				fmt.Fprintln(out, "Too many messages, give it a minute.")
			default:
				fmt.Fprintln(out, "Rejected:", err)
			}
			fmt.Fprint(out, "You> ")
			continue
		}

		conversationID = res.ConversationID
		for _, reply := range res.Replies {
			fmt.Fprintln(out, "--- Assistant ---")
			fmt.Fprintln(out, renderSegments(reply.FormattedContent))
			fmt.Fprintln(out, "-----------------")
		}
		fmt.Fprint(out, "You> ")
	}
}

// renderSegments maps formatted segments onto terminal styles.
func renderSegments(segments []domain.Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		switch seg.Kind {
		case domain.SegmentBold:
			sb.WriteString(styleBold + seg.Content + styleReset)
		case domain.SegmentItalic:
			sb.WriteString(styleItalic + seg.Content + styleReset)
		case domain.SegmentCode:
			sb.WriteString(styleCode + seg.Content + styleReset)
		case domain.SegmentCodeBlock:
			sb.WriteString("\n" + styleCode + seg.Content + styleReset + "\n")
		default:
			sb.WriteString(seg.Content)
		}
	}
	return sb.String()
}
