package main

import (
	"fmt"
	"os"
	"strings"
)

// uiMode is a tri-state switch: forced on, forced off, or decided by
// whether the stream is a terminal.
type uiMode string

const (
	uiModeAuto uiMode = "auto"
	uiModeOn   uiMode = "on"
	uiModeOff  uiMode = "off"
)

var switchWords = map[string]uiMode{
	"": uiModeAuto, "auto": uiModeAuto,
	"on": uiModeOn, "always": uiModeOn,
	"off": uiModeOff, "never": uiModeOff,
}

func parseSwitch(flag, value string) (uiMode, error) {
	if m, ok := switchWords[strings.TrimSpace(strings.ToLower(value))]; ok {
		return m, nil
	}
	return "", fmt.Errorf("invalid --%s value %q (expected auto|on|off)", flag, value)
}

func readUIMode(value string) (uiMode, error) { return parseSwitch("ui", value) }

// shouldUseTUI decides for the progress view, which draws on stderr.
func shouldUseTUI(mode uiMode) bool {
	return mode == uiModeOn || (mode == uiModeAuto && isTerminal(os.Stderr))
}

// readColorMode honors NO_COLOR in auto mode.
func readColorMode(value string) (bool, error) {
	m, err := parseSwitch("color", value)
	if err != nil {
		return false, err
	}
	return m == uiModeOn || (m == uiModeAuto && isTerminal(os.Stdout) && os.Getenv("NO_COLOR") == ""), nil
}
