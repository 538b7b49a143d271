package runner

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(t *testing.T, input string, max int) []string {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 0, 16), max+1)
	scanner.Split(splitLines(max))

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"newlines", "a\nb\n", []string{"a", "b"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"bare carriage return", "10%\r20%\r30%\n", []string{"10%", "20%", "30%"}},
		{"trailing carriage return", "a\r", []string{"a"}},
		{"no terminator", "tail", []string{"tail"}},
		{"empty lines kept", "a\n\nb\n", []string{"a", "", "b"}},
		{"empty input", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scanAll(t, tt.input, 1024))
		})
	}
}

func TestSplitLines_LongLinesAreCut(t *testing.T) {
	input := strings.Repeat("x", 25) + "\nshort\n"
	lines := scanAll(t, input, 10)

	assert.Equal(t, []string{
		strings.Repeat("x", 10),
		strings.Repeat("x", 10),
		strings.Repeat("x", 5),
		"short",
	}, lines)
}
