package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowLoginGuide explains how stored credentials are used
func ShowLoginGuide(w io.Writer, loginURL string) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "🔐 SIGNING IN FOR DOWNLOADS")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Downloads work without an account, but signing in lets the browser")
	fmt.Fprintln(w, "fetch full-resolution files the same way you would by hand.")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "   1. Make sure you can sign in at %s\n", loginURL)
	fmt.Fprintln(w, "      with an email and password (not a social login).")
	fmt.Fprintln(w, "   2. Run: unsplashdl auth login")
	fmt.Fprintln(w, "   3. Start a download with --account you@example.com, or leave it")
	fmt.Fprintln(w, "      out to use the most recently stored account.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "💡 Credentials are kept in the system keychain when one is available,")
	fmt.Fprintln(w, "   otherwise in an encrypted file in your config directory.")
	fmt.Fprintf(w, "   %s and %s override both.\n", envEmail, envPassword)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "⚠️  A failed sign-in is not fatal: the run continues anonymously.")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
}
