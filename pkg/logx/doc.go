// Package logx is shopnotify's structured logging wrapper around zerolog.
//
// Components receive a Logger by value and derive their own with
// log.With(logx.Comp("relay")). The serve process owns one Service whose
// Apply swaps level and sinks on config reload; every derived Logger
// follows it. The CLI uses standalone console loggers instead.
//
// A zero Logger is valid and silent, so constructors do
//
//	if log.IsZero() {
//		log = logx.Nop()
//	}
package logx
