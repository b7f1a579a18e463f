package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/voxline/internal/protocol"
	"github.com/ent0n29/voxline/internal/reliability"
)

const (
	dialBackoffBase = 250 * time.Millisecond
	dialBackoffCap  = 5 * time.Second
)

type callOptions struct {
	url         string
	agentID     string
	texts       []string
	playback    time.Duration
	retries     int
	turnTimeout time.Duration
}

func newCallCmd() *cobra.Command {
	var opts callOptions
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Place a text-mode call against a running server",
		Long: `call opens a call channel, prints every transcript, answers each speak directive
with speech_ended and sends one text utterance per line read from stdin (or per --text).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCall(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "ws://127.0.0.1:8080/webrtc", "call channel URL (http(s) URLs are converted)")
	f.StringVar(&opts.agentID, "agent", "", "agent id to call")
	f.StringArrayVar(&opts.texts, "text", nil, "utterance to send instead of reading stdin (repeatable)")
	f.DurationVar(&opts.playback, "playback", 0, "simulated playback time before acknowledging a speak directive")
	f.IntVar(&opts.retries, "retries", 3, "dial attempts after the first failure")
	f.DurationVar(&opts.turnTimeout, "turn-timeout", 30*time.Second, "maximum wait for the agent to answer an utterance")
	return cmd
}

func callURL(raw, agentID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("url host is required")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/webrtc"
	}
	q := u.Query()
	if agentID = strings.TrimSpace(agentID); agentID != "" {
		q.Set("agentId", agentID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func dialCall(ctx context.Context, target string, retries int, errOut io.Writer) (*websocket.Conn, error) {
	for attempt := 0; ; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err == nil {
			return conn, nil
		}
		if attempt >= retries {
			return nil, fmt.Errorf("dial %s: %w", target, err)
		}
		wait := reliability.ExponentialBackoff(attempt, dialBackoffBase, dialBackoffCap)
		fmt.Fprintf(errOut, "dial failed (%v), retrying in %s\n", err, wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// utterances yields the scripted texts, or stdin lines when there are none. The
// channel closes when the source is exhausted.
func utterances(texts []string, in io.Reader, stop <-chan struct{}) <-chan string {
	out := make(chan string)
	emit := func(line string) bool {
		select {
		case out <- line:
			return true
		case <-stop:
			return false
		}
	}
	go func() {
		defer close(out)
		if len(texts) > 0 {
			for _, t := range texts {
				if !emit(t) {
					return
				}
			}
			return
		}
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if !emit(scanner.Text()) {
				return
			}
		}
	}()
	return out
}

func readEvents(conn *websocket.Conn, events chan<- any, readErr chan<- error, stop <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			continue
		}
		select {
		case events <- msg:
		case <-stop:
			return
		}
	}
}

func runCall(ctx context.Context, opts callOptions, in io.Reader, out, errOut io.Writer) error {
	target, err := callURL(opts.url, opts.agentID)
	if err != nil {
		return err
	}
	conn, err := dialCall(ctx, target, opts.retries, errOut)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	events := make(chan any, 16)
	readErr := make(chan error, 1)
	go readEvents(conn, events, readErr, stop)

	lines := utterances(opts.texts, in, stop)
	var (
		nextLine  <-chan string
		playback  <-chan time.Time
		deadline  <-chan time.Time
		turnTimer *time.Timer
		sentAt    time.Time
	)
	defer func() {
		if turnTimer != nil {
			turnTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return hangUp(conn)
		case err := <-readErr:
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				fmt.Fprintf(out, "call ended: %s\n", closeErr.Text)
				return nil
			}
			return fmt.Errorf("read: %w", err)
		case <-deadline:
			return fmt.Errorf("no answer within %s", opts.turnTimeout)
		case <-playback:
			playback = nil
			if err := conn.WriteJSON(protocol.SpeechEnded{Type: protocol.TypeSpeechEnded}); err != nil {
				return fmt.Errorf("write speech_ended: %w", err)
			}
		case line, ok := <-nextLine:
			if !ok {
				return hangUp(conn)
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			nextLine = nil
			if err := conn.WriteJSON(protocol.Text{Type: protocol.TypeText, Text: line}); err != nil {
				return fmt.Errorf("write text: %w", err)
			}
			sentAt = time.Now()
			if opts.turnTimeout > 0 {
				turnTimer = time.NewTimer(opts.turnTimeout)
				deadline = turnTimer.C
			}
		case ev := <-events:
			switch m := ev.(type) {
			case protocol.Transcript:
				fmt.Fprintf(out, "%s: %s\n", m.Speaker, m.Text)
			case protocol.Speak:
				if !sentAt.IsZero() {
					fmt.Fprintf(errOut, "(answered in %dms)\n", time.Since(sentAt).Milliseconds())
					sentAt = time.Time{}
				}
				if turnTimer != nil {
					turnTimer.Stop()
					turnTimer, deadline = nil, nil
				}
				playback = time.After(opts.playback)
			case protocol.Ready:
				nextLine = lines
			case protocol.ErrorEvent:
				fmt.Fprintf(errOut, "server error %s: %s\n", m.Code, m.Detail)
			}
		}
	}
}

func hangUp(conn *websocket.Conn) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "caller hung up")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}
