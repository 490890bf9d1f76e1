// Package logx wraps zerolog behind a small structured-logging API with
// runtime-swappable sinks (console, file).
package logx
