package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// reservedFlags are set by BuildArgs and may not be overridden.
var reservedFlags = map[string]bool{
	"-i":                true,
	"-f":                true,
	"-safe":             true,
	"-segment_time":     true,
	"-reset_timestamps": true,
	"-y":                true,
}

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// SanitizeExtraArgs checks user-supplied output options.
func SanitizeExtraArgs(args []string) error {
	for _, arg := range args {
		if reservedFlags[arg] {
			return fmt.Errorf("option %s is managed by vidsplit", arg)
		}
		// Shell metacharacters are rejected outright.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
