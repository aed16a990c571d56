// Package api exposes the REST surface of the assistant: synchronous goal
// execution, asynchronous task submission, run history, and user feedback
// collection. Handlers are instrumented with the in-process HTTP metrics.
package api
