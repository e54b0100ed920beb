/*
Package observability turns engine lifecycle events into Prometheus metrics
and structured logs.

Metrics owns its registry so several engines (or tests) never collide on the
global one. Combine merges hook sets so metrics and logging can be attached
to the same engine.
*/
package observability
