package web

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mdde/genesisweb/internal/stream"
)

func TestValidateAnswer(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"yes", "J", false},
		{"with spaces", " keep spaces ", false},
		{"empty", "", true},
		{"blank", " \t ", true},
		{"newline", "y\n", true},
		{"carriage return", "y\rn", true},
		{"invalid utf8", "\xff", true},
		{"too long", strings.Repeat("a", maxAnswerBytes+1), true},
		{"at limit", strings.Repeat("a", maxAnswerBytes), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateAnswer(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestStreamCursor(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		lastID  string
		want    stream.Cursor
		wantErr bool
	}{
		{"default", "", "", stream.Cursor{}, false},
		{"from", "?from=7", "", stream.Cursor{Offset: 7}, false},
		{"from and gen", "?from=7&gen=3", "", stream.Cursor{Offset: 7, Generation: 3}, false},
		{"last event id wins", "?from=7", "3", stream.Cursor{Offset: 3}, false},
		{"last event id with generation", "?from=7&gen=1", "4:3", stream.Cursor{Offset: 3, Generation: 4}, false},
		{"negative from", "?from=-1", "", stream.Cursor{}, true},
		{"garbage from", "?from=abc", "", stream.Cursor{}, true},
		{"garbage gen", "?gen=-2", "", stream.Cursor{}, true},
		{"garbage id", "", "x", stream.Cursor{}, true},
		{"garbage id generation", "", "x:3", stream.Cursor{}, true},
		{"negative id offset", "", "2:-1", stream.Cursor{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/runs/a.yaml/stream"+tt.query, nil)
			if tt.lastID != "" {
				r.Header.Set("Last-Event-ID", tt.lastID)
			}
			got, err := streamCursor(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsValidConfigName(t *testing.T) {
	assert.True(t, isValidConfigName("nightly.yaml"))
	assert.False(t, isValidConfigName("../etc/passwd"))
	assert.False(t, isValidConfigName("notes.txt"))
	assert.False(t, isValidConfigName(""))
}
