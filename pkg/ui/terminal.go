// Package ui prints to the terminal: coloured messages, a one-line progress
// display and desktop notifications
package ui

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// ASCIILogo is printed at the start of a run
const ASCIILogo = `
    ╔════════════════════════════════════════════════════════╗
    ║  _   _ _ __  ___ _ __ | | __ _ ___| |__   __| | |       ║
    ║ | | | | '_ \/ __| '_ \| |/ _' / __| '_ \ / _' | |       ║
    ║ | |_| | | | \__ \ |_) | | (_| \__ \ | | | (_| | |       ║
    ║  \__,_|_| |_|___/ .__/|_|\__,_|___/_| |_|\__,_|_|       ║
    ║                 |_|     browser-driven image downloads  ║
    ╚════════════════════════════════════════════════════════╝
`

var (
	colorEnabled atomic.Bool
	output       io.Writer = os.Stdout
)

func init() {
	colorEnabled.Store(true)
}

// SetColorEnabled turns ANSI colours on or off
func SetColorEnabled(enabled bool) {
	colorEnabled.Store(enabled)
}

// SetOutput redirects the Print helpers; nil restores stdout
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	output = w
}

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		if !colorEnabled.Load() {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	fmt.Fprint(output, Cyan(ASCIILogo))
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(output, Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(output, Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Fprintln(output, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	fmt.Fprintf(output, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(output, Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(output, Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	fmt.Fprintln(output, Magenta(msg))
}
