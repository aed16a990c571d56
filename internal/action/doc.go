// Package action routes planned tool calls to their registered backends.
//
// Every backend follows one contract: string-keyed arguments in, a
// JSON-serializable map out. The router owns the cross-cutting concerns so
// backends stay simple: the safety gate runs before every dispatch, required
// arguments are validated against the registration schema, recognized
// failures get exactly one repair-and-retry, and panics are converted into
// structured error maps instead of crossing the boundary.
package action
