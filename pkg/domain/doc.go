/*
Package domain contains the core domain models of the Parley flow engine.

It defines the versioned graph a flow author publishes, the per-conversation
Execution record the engine mutates one turn at a time, and the append-only
step log. This package is kept pure and free of external dependencies like I/O
or persistence, following Hexagonal Architecture principles.

# Key Entities

  - GraphDefinition: An immutable, versioned snapshot of nodes, edges and settings.
  - Node / Edge: The typed steps of a flow and the (optionally labelled) links between them.
  - Execution: The runtime record of one conversation run (status, variables, counters, log).
  - StepRecord: One entry per node visited during a turn.
*/
package domain
