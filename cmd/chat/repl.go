package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/newsdesk/internal/client"
	"github.com/zhouzirui/newsdesk/internal/config"
	"github.com/zhouzirui/newsdesk/internal/service/ai"
	"github.com/zhouzirui/newsdesk/internal/service/answer"
	chatservice "github.com/zhouzirui/newsdesk/internal/service/chat"
	"github.com/zhouzirui/newsdesk/internal/transcript"
)

// backend is what the interactive transcript needs from the answering side.
type backend interface {
	transcript.AnswerProvider
	transcript.HistoryLoader
	CreateSession(ctx context.Context) (string, error)
	ResetSession(ctx context.Context, sessionID string) error
}

// localBackend runs the answering service in-process.
type localBackend struct {
	*answer.Service
}

func (b localBackend) CreateSession(ctx context.Context) (string, error) {
	session, err := b.Service.CreateSession(ctx)
	if err != nil {
		return "", err
	}
	return session.ID, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var b backend
	if local {
		svc, err := newLocalService(ctx)
		if err != nil {
			return err
		}
		b = localBackend{svc}
	} else {
		b = newClient()
	}

	return runREPL(ctx, b, sessionFlag, cmd.InOrStdin(), cmd.OutOrStdout())
}

func newLocalService(ctx context.Context) (*answer.Service, error) {
	var generator answer.Generator
	if cfg.AI.Enabled() {
		svc, err := ai.NewService(ctx, cfg.AI, ai.WithLogger(logger.Named("ai")))
		if err != nil {
			return nil, fmt.Errorf("init ai service: %w", err)
		}
		generator = svc
	} else {
		fmt.Fprintln(os.Stderr, "warning: Ark credentials not configured, every answer will fail")
	}

	opts := []answer.Option{answer.WithLogger(logger.Named("answer"))}
	if cfg.Retrieval.Enabled() {
		news := client.New(
			config.ClientConfig{BaseURL: cfg.Retrieval.NewsURL, NewsBaseURL: cfg.Retrieval.NewsURL, Timeout: cfg.Retrieval.Timeout},
			client.WithLogger(logger.Named("news")),
		)
		opts = append(opts, answer.WithRetriever(client.NewsRetriever{Client: news}))
	}
	return answer.New(chatservice.NewMemoryStore(), generator, opts...), nil
}

// lockedWriter lets the reader and renderer share one output stream.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// runREPL renders the transcript while reading questions and commands
// from in. It returns on /quit, on cancellation, or at end of input once
// the pending answer has arrived.
func runREPL(ctx context.Context, b backend, sessionID string, in io.Reader, out io.Writer) error {
	w := &lockedWriter{w: out}
	manager := transcript.New(b, b, transcript.WithLogger(logger.Named("transcript")))

	if sessionID == "" {
		id, err := b.CreateSession(ctx)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = id
	}

	snapshots, unsubscribe := manager.Subscribe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var r renderer
		for snap := range snapshots {
			if text := r.Render(snap); text != "" {
				fmt.Fprint(w, text)
			}
		}
		return nil
	})

	g.Go(func() error {
		sessionCtx, cancel := context.WithCancel(gctx)
		defer func() {
			cancel()
			manager.Wait()
			unsubscribe()
		}()

		manager.Initialize(sessionCtx, sessionID)
		return readCommands(sessionCtx, manager, b, in, w)
	})

	return g.Wait()
}

func readCommands(ctx context.Context, manager *transcript.Manager, b backend, in io.Reader, w io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				manager.Wait()
				return nil
			}
			quit, err := handleLine(ctx, manager, b, strings.TrimSpace(line), w)
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, manager *transcript.Manager, b backend, line string, w io.Writer) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		if err := manager.Dispatch(ctx, line); errors.Is(err, transcript.ErrBusy) {
			fmt.Fprintln(w, "still waiting for the previous answer")
		}
		return false, nil
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/quit", "/exit":
		return true, nil
	case "/clear":
		manager.Clear()
	case "/new":
		id, err := b.CreateSession(ctx)
		if err != nil {
			return false, err
		}
		manager.Initialize(ctx, id)
	case "/session":
		if arg == "" {
			fmt.Fprintf(w, "current session: %s\n", manager.SessionID())
			return false, nil
		}
		manager.Initialize(ctx, arg)
	case "/reset":
		if current := manager.SessionID(); current != "" {
			if err := b.ResetSession(ctx, current); err != nil {
				logger.Warn("reset session failed", zap.String("session", current), zap.Error(err))
			}
		}
		id, err := b.CreateSession(ctx)
		if err != nil {
			return false, err
		}
		manager.Initialize(ctx, id)
	case "/help":
		fmt.Fprintln(w, "commands: /new /session <id> /clear /reset /help /quit")
	default:
		fmt.Fprintf(w, "unknown command %s, try /help\n", command)
	}
	return false, nil
}
