package ui

import "github.com/gdamore/tcell/v2"

// Theme colors for the TUI.
var (
	ColorBackground   = tcell.NewHexColor(0x1e1e2e)
	ColorPrimary      = tcell.NewHexColor(0x89b4fa) // blue
	ColorAccent       = tcell.NewHexColor(0xcba6f7) // mauve
	ColorText         = tcell.NewHexColor(0xcdd6f4)
	ColorTextMuted    = tcell.NewHexColor(0x6c7086)
	ColorSuccess      = tcell.NewHexColor(0xa6e3a1) // green
	ColorWarning      = tcell.NewHexColor(0xf9e2af) // yellow
	ColorError        = tcell.NewHexColor(0xf38ba8) // red
	ColorBorder       = tcell.NewHexColor(0x45475a)
	ColorSelected     = tcell.NewHexColor(0x89b4fa)
	ColorSelectedText = tcell.NewHexColor(0x1e1e2e)
)

// Status icons
const (
	IconRunning   = "●"
	IconStreaming = "◐"
	IconIdle      = "○"
)

// StatusIcon maps a session state to its icon and color. A session can have
// a live process, a tailed log, both or neither.
func StatusIcon(running, streamable bool) (string, tcell.Color) {
	switch {
	case running && streamable:
		return IconRunning, ColorSuccess
	case running:
		return IconRunning, ColorWarning
	case streamable:
		return IconStreaming, ColorAccent
	default:
		return IconIdle, ColorTextMuted
	}
}
