package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/zulandar/fortysix/internal/bot"
)

// useColor disables color output unless stdout is a terminal.
func useColor(out io.Writer) {
	f, ok := out.(*os.File)
	color.NoColor = !ok || !term.IsTerminal(int(f.Fd()))
}

// printPairingCode renders the linking instructions for a pairing code.
func printPairingCode(out io.Writer, code string) {
	rule := strings.Repeat("═", 44)
	fmt.Fprintln(out)
	fmt.Fprintln(out, color.CyanString(rule))
	fmt.Fprintf(out, "  📱 Pairing code: %s\n", color.New(color.Bold, color.FgGreen).Sprint(code))
	fmt.Fprintln(out, color.CyanString(rule))
	fmt.Fprintln(out, "  1. Open WhatsApp on your phone")
	fmt.Fprintln(out, "  2. Settings → Linked Devices → Link a Device")
	fmt.Fprintln(out, "  3. Tap \"Link with phone number instead\"")
	fmt.Fprintln(out, "  4. Enter the code above")
	fmt.Fprintln(out)
}

// printQR prints the raw QR payload for rendering by an external tool.
func printQR(out io.Writer, code string) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, color.CyanString("Scan this QR payload from WhatsApp → Linked Devices:"))
	fmt.Fprintln(out, code)
	fmt.Fprintln(out)
}

func printOnline(out io.Writer, info bot.OpenInfo) {
	fmt.Fprintf(out, "%s connected as %s", color.GreenString("✓"), info.Number)
	if info.Name != "" {
		fmt.Fprintf(out, " (%s)", info.Name)
	}
	if info.Label != "" {
		fmt.Fprintf(out, " session %s", color.HiBlackString(info.Label))
	}
	fmt.Fprintln(out)
}

func printLoggedOut(out io.Writer, credsDir string) {
	fmt.Fprintln(out, color.RedString("✗ This device was logged out from WhatsApp."))
	fmt.Fprintf(out, "  Remove the saved session and pair again:\n    fortysix creds reset --yes   (deletes %s)\n", credsDir)
}
