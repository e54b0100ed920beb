/*
Package parley executes conversational flows authored as graphs against live
conversations.

A graph is a versioned set of typed nodes (message, question, menu, condition,
api_call, webhook, tag_contact, handoff, end) connected by edges. An Execution
pins one graph version and advances through it one turn at a time: each turn
consumes at most one user message, performs outbound side effects in node
order and parks again on the next question or menu.

# Architecture

The engine follows a hexagonal layout. The core (internal/runtime) interprets
the graph and never touches I/O directly; it talks to the outside world through
the ports in pkg/ports:

  - ExecutionStore persists executions with an optimistic revision check.
  - GraphStore serves immutable graph versions.
  - MessagingChannel, TagStore, ConversationStore and an HTTP client back the
    side-effect gateway.

Adapters for memory, Redis, SQLite and the filesystem live under pkg/adapters.

# Usage

	graphs, _ := memory.NewGraphStore(myGraph)
	eng := parley.New(memory.NewStore(), graphs, channel.NewLog(logger),
		parley.WithLogger(logger),
	)

	exec, err := eng.Start(ctx, ports.StartRequest{
		GraphID:        "welcome",
		CompanyID:      "acme",
		ConversationID: "conv-1",
		ContactID:      "contact-1",
		Contact:        domain.Contact{Name: "Ana", Phone: "+5511912345678"},
	})
	if err != nil {
		log.Fatal(err)
	}

	// First turn runs from the start node up to the first question.
	resp := eng.Trigger(ctx, ports.TriggerRequest{ExecutionID: exec.ID, CompanyID: "acme"})

	// Later turns carry the contact's replies.
	resp = eng.Trigger(ctx, ports.TriggerRequest{ExecutionID: exec.ID, CompanyID: "acme", UserMessage: "ana@example.com"})

# Concurrency

Turns for the same execution are serialized by pkg/session (an in-process
mutex plus an optional distributed lock). Stores additionally reject stale
writes, so two replicas racing on one execution never both commit.
*/
package parley
