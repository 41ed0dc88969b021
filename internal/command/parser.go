package command

import "strings"

// ParseResult holds the parsed command name and arguments from a chat line.
type ParseResult struct {
	// Command is the word after the prefix, lowercased.
	Command string
	Args    []string
	// RawArgs is the text after the command with inner spacing preserved.
	RawArgs string
}

// Parse splits a prefixed chat line into a command and arguments.
//
// Postcondition: ok is false when line does not start with prefix or has no
// command word after it.
func Parse(prefix, line string) (ParseResult, bool) {
	line = strings.TrimSpace(line)
	if prefix == "" || !strings.HasPrefix(line, prefix) {
		return ParseResult{}, false
	}
	line = strings.TrimSpace(line[len(prefix):])
	if line == "" {
		return ParseResult{}, false
	}

	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return ParseResult{Command: strings.ToLower(line)}, true
	}
	rest := strings.TrimSpace(line[idx+1:])
	var args []string
	if rest != "" {
		args = strings.Fields(rest)
	}
	return ParseResult{
		Command: strings.ToLower(line[:idx]),
		Args:    args,
		RawArgs: rest,
	}, true
}
