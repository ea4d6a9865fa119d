package verdict

import (
	"strconv"
	"strings"
)

// ParseCompileLog splits a compile child's captured stdout into structured
// log lines of the form "<level>:<message>" where level is 0..4. A
// malformed line (no numeric level prefix) is tolerated by treating the
// whole line as a level-4 (error) message.
func ParseCompileLog(output []byte) []CompileLogLine {
	text := strings.TrimRight(string(output), "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	records := make([]CompileLogLine, 0, len(lines))
	for _, line := range lines {
		records = append(records, parseCompileLogLine(line))
	}
	return records
}

func parseCompileLogLine(line string) CompileLogLine {
	prefix, message, found := strings.Cut(line, ":")
	if !found {
		return CompileLogLine{Level: LevelError, Message: line}
	}
	n, err := strconv.Atoi(prefix)
	if err != nil || n < int(LevelTrace) || n > int(LevelError) {
		return CompileLogLine{Level: LevelError, Message: line}
	}
	return CompileLogLine{Level: CompileLogLevel(n), Message: message}
}
