// Package config loads the assistant's YAML configuration once at startup
// and hands each component its own typed section. There is no global mutable
// state; unset fields receive documented defaults.
package config
