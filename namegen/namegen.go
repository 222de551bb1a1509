// Package namegen names server instances so that restarts can be told apart in status output.
package namegen

import (
	"fmt"
	"os"
	"strings"

	vendor "github.com/anandvarma/namegen"
)

var gen = vendor.New()

// Instance returns "<host>-<generated name>", e.g. "gpu01-brave-turing".
func Instance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gpumux"
	}
	return Join(host, gen.Get())
}

// Join builds an instance name from a host and a generated suffix.
func Join(host, suffix string) string {
	host, _, _ = strings.Cut(host, ".")
	return fmt.Sprintf("%s-%s", strings.ToLower(host), suffix)
}
