// Package planner turns a natural-language goal into candidate actions.
//
// Two modes are supported. Structured planning answers a goal with one
// action set: an ordered list of deterministic heuristic matchers runs
// first, the model is consulted only when none fires, and unparsable model
// output falls back to a numbered-step planner. ReAct planning produces one
// turn at a time, feeding prior observations back into the prompt until the
// model declares the goal finished. The planner only proposes; execution
// and side effects belong to the action router.
package planner
