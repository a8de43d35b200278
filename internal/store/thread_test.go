package store

import (
	"os"
	"sync"
	"testing"

	"github.com/adamavenir/rooms/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatEntry(t *testing.T) {
	got := FormatEntry(types.ThreadEntry{Sender: "alice", Time: "12:34:56", Body: "Hello @bob, status?"})
	assert.Equal(t, "\n---\n\n**alice** (12:34:56):\nHello @bob, status?\n", got)
}

func TestAppendAndReadThread(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRoom("ops", "system", created)
	require.NoError(t, err)

	entries := []types.ThreadEntry{
		{Sender: "alice", Time: "10:00:00", Body: "first"},
		{Sender: "Bob", Time: "10:00:05", Body: "multi\nline\n\nreply"},
		{Sender: "carol", Time: "10:01:00", Body: "quoting a rule\n---\nstill carol"},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendEntry("ops", e))
	}

	got, err := s.ReadThread("ops")
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	raw, err := os.ReadFile(s.ThreadPath("ops"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# Room: ops\n**Created:** 2024-01-01T08:00:00Z\n\n---\n\n**alice** (10:00:00):\nfirst\n")
}

func TestAppendEntryIsPrefixPreserving(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRoom("ops", "system", created)
	require.NoError(t, err)

	require.NoError(t, s.AppendEntry("ops", types.ThreadEntry{Sender: "a", Time: "01:02:03", Body: "x"}))
	before, err := os.ReadFile(s.ThreadPath("ops"))
	require.NoError(t, err)

	require.NoError(t, s.AppendEntry("ops", types.ThreadEntry{Sender: "b", Time: "01:02:04", Body: "y"}))
	after, err := os.ReadFile(s.ThreadPath("ops"))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after[:len(before)]))
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRoom("ops", "system", created)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendEntry("ops", types.ThreadEntry{Sender: "w", Time: "00:00:00", Body: "body"}))
		}()
	}
	wg.Wait()

	got, err := s.ReadThread("ops")
	require.NoError(t, err)
	require.Len(t, got, 20)
	for _, e := range got {
		assert.Equal(t, "body", e.Body)
	}
}

func TestReadThreadMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.ReadThread("nope")
	require.NoError(t, err)
	assert.Empty(t, got)
}
