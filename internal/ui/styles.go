// Package ui styles the depgraph CLI's terminal output.
package ui

import (
	"fmt"

	"github.com/alfredjeanlab/depgraph/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorCmd     = 250 // light gray
	colorMuted   = 245 // medium gray
	colorOpen    = 114 // green
	colorBlocked = 215 // orange
	colorError   = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderError returns s in the error (red) color.
func RenderError(s string) string { return paint(colorError, s) }

// RenderState renders a node's readiness: "resolved", "blocked" for an open
// node with open blockers, or "ready".
func RenderState(state model.State, blocked bool) string {
	switch {
	case state == model.StateResolved:
		return paint(colorMuted, "resolved")
	case blocked:
		return paint(colorBlocked, "blocked")
	default:
		return paint(colorOpen, "ready")
	}
}

// RenderEdgeKind highlights discovered edges.
func RenderEdgeKind(kind model.EdgeKind) string {
	if kind == model.EdgeDiscovered {
		return paint(colorAccent, kind.String())
	}
	return kind.String()
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
