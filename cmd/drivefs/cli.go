package main

import (
	"fmt"
	"os"
)

// runSessionSubcommand handles the login/logout/list/verify family as
// out-of-scope collaborator services: the OAuth acquisition flow, credential
// storage management, and token-liveness probe. The core this repository
// implements only ever *consumes* an already-persisted session (package
// session); it never performs the interactive dance, so these stay stubs
// that report what would need to be wired up instead of silently pretending
// to work.
func runSessionSubcommand(name string, args []string) int {
	fmt.Fprintf(os.Stderr,
		"drivefs %s: not implemented in this build.\n"+
			"Session acquisition/management is handled by a separate tool;\n"+
			"this binary only mounts against an already-persisted session written\n"+
			"to $XDG_CONFIG_HOME/drivefs/<name>.json.\n",
		name)
	return 1
}
