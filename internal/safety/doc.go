// Package safety implements the deterministic pre-execution gate that the
// action router consults before dispatching any tool call. The policy never
// performs IO: the same tool, arguments, and confirmation flag always yield
// the same decision, which keeps the gate trivially auditable.
package safety
