/*
Package session serializes turns per execution.

A Manager combines an in-process, reference-counted mutex per execution ID
with an optional distributed lock, so the load, process and save of one turn
never interleave with another turn for the same execution, even across
replicas. Stores also check the execution revision on every save.
*/
package session
