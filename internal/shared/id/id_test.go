package id

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedIDs(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		prefix string
	}{
		{"session", NewSessionID().String(), SessionPrefix},
		{"run", NewRunID().String(), RunPrefix},
		{"request", NewRequestID().String(), RequestPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(tt.id, tt.prefix+"_"), tt.id)
			prefix, _, err := Split(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.prefix, prefix)
		})
	}
}

func TestIDsSortInCreationOrder(t *testing.T) {
	ids := make([]string, 500)
	for i := range ids {
		ids[i] = NewSessionID().String()
	}
	assert.True(t, sort.StringsAreSorted(ids), "ids minted in sequence must already be sorted")
}

func TestConcurrentIDsAreUnique(t *testing.T) {
	const workers, perWorker = 8, 200

	var (
		mu   sync.Mutex
		seen = make(map[RunID]bool, workers*perWorker)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				id := NewRunID()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestSplitErrors(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"no prefix", "01HZX5Q4W3M8N7B6V5C4X3Z2Y1"},
		{"empty prefix", "_01HZX5Q4W3M8N7B6V5C4X3Z2Y1"},
		{"bad ulid", "sess_missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Split(tt.id)
			assert.Error(t, err)
		})
	}
}

func TestTime(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	id := NewSessionID()
	after := time.Now()

	ts, err := Time(id.String())
	require.NoError(t, err)
	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(after))

	_, err = Time("nope")
	assert.Error(t, err)
}

func TestNewMessageID(t *testing.T) {
	a, b := NewMessageID(), NewMessageID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func BenchmarkNewSessionID(b *testing.B) {
	for b.Loop() {
		_ = NewSessionID()
	}
}
