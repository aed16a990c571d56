// Package tools implements the concrete tool backends behind the action
// router: local filesystem operations with a sandbox and archive support,
// web page fetching, SMTP mail, filename search, directory watching,
// program launching, and the perception.* family bridging to the perception
// engine. Every operation follows the uniform contract — string-keyed args
// in, a JSON-serializable map out — and registers its required argument
// keys with the router.
package tools
