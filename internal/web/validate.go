package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mdde/genesisweb/internal/configstore"
	"github.com/mdde/genesisweb/internal/stream"
)

// maxAnswerBytes bounds one answer written to a workflow.
const maxAnswerBytes = 4096

// isValidConfigName checks that a path segment names a configuration file.
func isValidConfigName(s string) bool {
	return configstore.IsConfigName(s)
}

// validateAnswer checks an answer before it is written to stdin. Newlines
// are rejected: one answer is exactly one input line.
func validateAnswer(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("invalid or missing input value")
	}
	if len(value) > maxAnswerBytes {
		return "", fmt.Errorf("input value longer than %d bytes", maxAnswerBytes)
	}
	if !utf8.ValidString(value) {
		return "", fmt.Errorf("input value is not valid UTF-8")
	}
	if strings.ContainsAny(value, "\r\n") {
		return "", fmt.Errorf("input value must be a single line")
	}
	return value, nil
}

// streamCursor returns the position a stream request resumes from.
// Last-Event-ID wins over the from and gen query parameters: it is what an
// EventSource sends when it reconnects on its own.
func streamCursor(r *http.Request) (stream.Cursor, error) {
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		c, err := parseEventID(id)
		if err != nil {
			return stream.Cursor{}, fmt.Errorf("invalid Last-Event-ID %q", id)
		}
		return c, nil
	}

	var c stream.Cursor
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		n, err := strconv.Atoi(from)
		if err != nil || n < 0 {
			return stream.Cursor{}, fmt.Errorf("invalid from offset %q", from)
		}
		c.Offset = n
	}
	if gen := q.Get("gen"); gen != "" {
		g, err := strconv.ParseUint(gen, 10, 64)
		if err != nil {
			return stream.Cursor{}, fmt.Errorf("invalid gen %q", gen)
		}
		c.Generation = g
	}
	return c, nil
}

// parseEventID parses an SSE id written by eventID: "gen:offset", or a bare
// offset for any generation.
func parseEventID(id string) (stream.Cursor, error) {
	var c stream.Cursor
	offset := id
	if gen, rest, ok := strings.Cut(id, ":"); ok {
		g, err := strconv.ParseUint(gen, 10, 64)
		if err != nil {
			return c, err
		}
		c.Generation = g
		offset = rest
	}
	n, err := strconv.Atoi(offset)
	if err != nil {
		return c, err
	}
	if n < 0 {
		return c, fmt.Errorf("negative offset %d", n)
	}
	c.Offset = n
	return c, nil
}

// sortKey normalizes the index sort_by parameter.
func sortKey(s string) string {
	switch s {
	case "modified", "state":
		return s
	default:
		return "name"
	}
}
