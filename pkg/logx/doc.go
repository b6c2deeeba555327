// Package logx is a thin structured-logging layer over zerolog.
//
// It exposes a small Logger with explicit Field helpers so call sites stay
// readable without importing zerolog everywhere. The zero value is a safe
// no-op logger, which keeps constructors free of nil checks.
package logx
