package ui

import "testing"

func TestStatusIconRunning(t *testing.T) {
	icon, color := StatusIcon(true, true)
	if icon != IconRunning || color != ColorSuccess {
		t.Errorf("got %q %v", icon, color)
	}
}

func TestStatusIconStreamOnlyDistinctFromIdle(t *testing.T) {
	_, streamColor := StatusIcon(false, true)
	_, idleColor := StatusIcon(false, false)
	if streamColor == idleColor {
		t.Error("stream-only should have a distinct color from idle")
	}
}

func TestStatusIconRunningWithoutStreamWarns(t *testing.T) {
	_, color := StatusIcon(true, false)
	if color != ColorWarning {
		t.Errorf("running without a tailed log should warn, got %v", color)
	}
}
