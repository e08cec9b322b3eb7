package ffmpeg

import (
	"bytes"
	"math"
	"strconv"
	"strings"
)

// ProgressMarker precedes the elapsed output time in ffmpeg's stats line.
const ProgressMarker = "time="

// ParseTimestamp converts an ffmpeg "HH:MM:SS.ff" time into seconds.
// Fewer than three ':'-separated fields is a failure; an unparseable
// hour, minute or second field counts as zero.
func ParseTimestamp(token string) (float64, bool) {
	parts := strings.Split(token, ":")
	if len(parts) < 3 {
		return 0, false
	}

	hours := parseField(parts[0])
	minutes := parseField(parts[1])
	seconds := parseField(parts[2])

	return hours*3600 + minutes*60 + seconds, true
}

func parseField(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ExtractTimestamp returns the token after the first progress marker in
// line, up to the next whitespace.
func ExtractTimestamp(line string) (string, bool) {
	idx := strings.Index(line, ProgressMarker)
	if idx < 0 {
		return "", false
	}
	rest := line[idx+len(ProgressMarker):]
	if end := strings.IndexAny(rest, " \t\r\n"); end >= 0 {
		rest = rest[:end]
	}
	return rest, true
}

// Fraction is elapsed/total clamped to [0,1]. A non-positive total yields 0.
func Fraction(elapsed, total float64) float64 {
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return 0
	}
	f := elapsed / total
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// LineProgress parses one stderr line into a progress fraction.
func LineProgress(line string, total float64) (float64, bool) {
	token, ok := ExtractTimestamp(line)
	if !ok {
		return 0, false
	}
	elapsed, ok := ParseTimestamp(token)
	if !ok {
		return 0, false
	}
	return Fraction(elapsed, total), true
}

// ScanProgressLines is a bufio.SplitFunc that ends lines at '\n', '\r' or
// "\r\n". ffmpeg redraws its stats line with bare carriage returns.
func ScanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
		// A "\r\n" split across reads yields one extra empty line.
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
