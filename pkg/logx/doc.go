// Package logx configures framesched's structured logging.
//
// Logger is a small value type over zerolog: console output stays readable
// (short timestamp and caller), the file sink is JSON with optional rotation,
// and a Service swaps level and sinks at runtime for config hot reload.
package logx
