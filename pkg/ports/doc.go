/*
Package ports defines the driven ports (interfaces) of the Parley engine.

These interfaces decouple the interpreter from storage, messaging and the
CRM-side collaborators, so the same engine runs against Redis, SQLite or
in-memory adapters.

# Key Interfaces

  - ExecutionStore: Loads and saves Execution records with an optimistic revision check.
  - GraphStore: Serves immutable, versioned GraphDefinition snapshots.
  - MessagingChannel: Delivers outbound text to a contact address.
  - TagStore and ConversationStore: The CRM side effects of tag_contact and handoff nodes.
  - HTTPDoer: The client used by api_call and webhook nodes.
  - DistributedLocker: Serializes turns for one execution across replicas.
  - Engine: The driving port consumed by the HTTP and MCP adapters.
*/
package ports
