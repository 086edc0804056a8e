package api

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBufferWraps(t *testing.T) {
	lb := NewLogBuffer(3)
	log := zerolog.New(lb)
	for i := 0; i < 5; i++ {
		log.Info().Msg(fmt.Sprintf("line %d", i))
	}

	entries := lb.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "line 2", entries[0].Message)
	assert.Equal(t, "line 4", entries[2].Message)

	recent := lb.Recent(2, "")
	require.Len(t, recent, 2)
	assert.Equal(t, "line 3", recent[0].Message)
}

func TestLogBufferNonJSON(t *testing.T) {
	lb := NewLogBuffer(2)
	_, err := lb.Write([]byte("plain text\n"))
	require.NoError(t, err)

	e := lb.Entries()[0]
	assert.Equal(t, "plain text", e.Message)
	assert.Equal(t, "info", e.Level)
}
