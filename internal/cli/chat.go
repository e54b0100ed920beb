package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/presentation/tui"
	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graphcheck"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/google/uuid"
)

// ChatOptions configures a local terminal conversation.
type ChatOptions struct {
	GraphsDir   string
	GraphID     string
	Version     int
	Variables   map[string]any
	ContactName string

	// SessionID persists the execution under StateDir so a later chat with
	// the same ID resumes it. Fresh discards any saved state first.
	SessionID string
	Fresh     bool
	StateDir  string

	// Pretty prints a banner and renders bot messages as markdown.
	Pretty bool

	Logger *slog.Logger
}

// consoleAddress is the destination of the local contact.
const consoleAddress = "console"

var quitCommands = map[string]bool{"q": true, "quit": true, "exit": true}

// chatWidth wraps rendered messages.
const chatWidth = 80

// consoleChannel prints outbound messages as chat lines.
type consoleChannel struct {
	mu     sync.Mutex
	out    io.Writer
	render tui.Renderer
}

var _ ports.MessagingChannel = (*consoleChannel)(nil)

func (c *consoleChannel) Send(_ context.Context, _ string, text string) error {
	rendered, err := c.render(text)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = fmt.Fprintln(c.out, rendered)
	return err
}

// RunChat plays a graph in the terminal: messages go to out and every line
// read from in answers the current question.
func RunChat(ctx context.Context, opts ChatOptions, in io.Reader, out io.Writer) error {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	graphs, err := file.NewGraphStore(opts.GraphsDir, file.WithCheck(graphcheck.Validate))
	if err != nil {
		return err
	}
	g, err := loadGraph(ctx, graphs, opts.GraphID, opts.Version)
	if err != nil {
		return err
	}

	var store ports.ExecutionStore = memory.NewStore()
	reset := func(context.Context) error { return nil }
	sessionID := opts.SessionID
	if sessionID != "" {
		fileStore := file.New(opts.StateDir)
		reset = func(ctx context.Context) error {
			if err := fileStore.Delete(ctx, sessionID); err != nil {
				return fmt.Errorf("failed to reset session %s: %w", sessionID, err)
			}
			return nil
		}
		if opts.Fresh {
			if err := reset(ctx); err != nil {
				return err
			}
		}
		store = fileStore
	} else {
		sessionID = uuid.NewString()
	}

	console := &consoleChannel{out: out, render: tui.Plain}
	if opts.Pretty {
		if console.render, err = tui.NewRenderer(chatWidth); err != nil {
			return err
		}
		tui.PrintBanner(out)
	}

	engine := parley.New(store, graphs, console,
		parley.WithLogger(logger),
		parley.WithLifecycleHooks(observability.LogHooks(logger)),
		parley.WithIDGenerator(func() string { return sessionID }),
		parley.WithDefaultSessionTimeout(0),
	)

	exec, err := resumeOrStart(ctx, engine, g, sessionID, opts, reset, out)
	if err != nil {
		return err
	}

	reader := bufio.NewScanner(in)
	message := ""
	if exec.Status == domain.StatusWaitingInput {
		if !prompt(ctx, reader, out, &message) {
			return nil
		}
	}

	for {
		resp := engine.Trigger(ctx, ports.TriggerRequest{
			ExecutionID: sessionID,
			CompanyID:   g.CompanyID,
			UserMessage: message,
		})
		if !resp.Success {
			return fmt.Errorf("turn failed (%s): %s", resp.Code, resp.Error)
		}

		switch resp.Status {
		case domain.StatusWaitingInput:
			if !prompt(ctx, reader, out, &message) {
				return reader.Err()
			}
			continue
		case domain.StatusCompleted:
			printSystemMessage(out, "Conversation completed.")
		case domain.StatusHandoff:
			printSystemMessage(out, "Conversation handed off to a human agent.")
		default:
			final, err := engine.Get(ctx, g.CompanyID, sessionID)
			if err != nil {
				return err
			}
			return fmt.Errorf("conversation %s at node %q: %s", final.Status, final.CurrentNodeID, final.Reason)
		}
		return nil
	}
}

func loadGraph(ctx context.Context, graphs ports.GraphStore, graphID string, version int) (*domain.GraphDefinition, error) {
	if version > 0 {
		return graphs.Load(ctx, graphID, version)
	}
	return graphs.Latest(ctx, graphID)
}

// resumeOrStart reuses a saved active execution or creates a new one. A saved
// execution that already finished is replaced.
func resumeOrStart(ctx context.Context, engine *parley.Engine, g *domain.GraphDefinition, sessionID string, opts ChatOptions, reset func(context.Context) error, out io.Writer) (*domain.Execution, error) {
	exec, err := engine.Get(ctx, g.CompanyID, sessionID)
	switch {
	case err == nil && exec.Status.IsActive() && exec.GraphID == g.ID:
		printSystemMessage(out, "Resuming session %q at node %q.", sessionID, exec.CurrentNodeID)
		return exec, nil
	case err == nil:
		if err := reset(ctx); err != nil {
			return nil, err
		}
	case !errors.Is(err, domain.ErrExecutionNotFound):
		return nil, err
	}

	exec, err = engine.Start(ctx, ports.StartRequest{
		GraphID:        g.ID,
		GraphVersion:   g.Version,
		CompanyID:      g.CompanyID,
		ConversationID: sessionID,
		ContactID:      consoleAddress,
		Contact:        domain.Contact{Name: opts.ContactName, Phone: consoleAddress},
		Variables:      opts.Variables,
	})
	if err != nil {
		return nil, err
	}
	if opts.SessionID != "" {
		printSystemMessage(out, "Session %q active.", sessionID)
	}
	return exec, nil
}

// prompt reads the next answer into message. It reports false when the user
// quits, the input ends or ctx is done.
func prompt(ctx context.Context, reader *bufio.Scanner, out io.Writer, message *string) bool {
	fmt.Fprint(out, "> ")
	if ctx.Err() != nil || !reader.Scan() {
		fmt.Fprintln(out)
		return false
	}
	line := strings.TrimSpace(reader.Text())
	if quitCommands[strings.ToLower(line)] {
		printSystemMessage(out, "Bye.")
		return false
	}
	*message = line
	return true
}
