// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific APIs behind a single text completion
// interface so the planner can switch between a local Ollama instance and an
// OpenAI-compatible endpoint without changes.
package llm
