package transcript

import "strings"

// ///////////////////////////////////////////////
// Local Commands
// ///////////////////////////////////////////////

// DefaultLocalCommands are slash commands the agent CLI handles itself
// without starting a model turn.
var DefaultLocalCommands = []string{
	"/clear", "/compact", "/help", "/config", "/cost", "/doctor", "/init",
	"/login", "/logout", "/memory", "/model", "/permissions", "/pr-comments",
	"/review", "/status", "/terminal-setup", "/vim",
}

// InterruptedMarker is written as user content when a turn is cancelled.
const InterruptedMarker = "[Request interrupted by user"

// IsLocalCommand reports whether text is a locally handled command: command
// output or caveat wrappers, a <command-name> wrapper around a vocabulary
// entry, or a vocabulary entry typed directly (optionally with arguments).
func IsLocalCommand(text string, vocab []string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "<local-command-stdout>") || strings.HasPrefix(trimmed, "<local-command-caveat>") {
		return true
	}

	cmd := trimmed
	if _, rest, ok := strings.Cut(trimmed, "<command-name>"); ok {
		if name, _, ok := strings.Cut(rest, "</command-name>"); ok {
			cmd = strings.TrimSpace(name)
		}
	}

	for _, v := range vocab {
		if cmd == v || strings.HasPrefix(cmd, v+" ") {
			return true
		}
	}
	return false
}

// IsInterrupted reports whether text carries the interruption marker.
func IsInterrupted(text string) bool {
	return strings.Contains(text, InterruptedMarker)
}
