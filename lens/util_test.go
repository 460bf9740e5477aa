package lens

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrGroupLimitCPU(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}
	t.Parallel()

	group := ErrGroupLimitCPU()

	var mu sync.Mutex
	var running, maxRunning int
	for i := 0; i < 4*runtime.NumCPU(); i++ {
		group.Go(func() error {
			mu.Lock()
			running++
			maxRunning = max(maxRunning, running)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, group.Wait())
	assert.LessOrEqual(t, maxRunning, runtime.NumCPU())
}

func TestStripedMutexSameKeyExclusive(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}
	t.Parallel()

	sm := newStripedMutex(8)

	var mu sync.Mutex
	var running, maxRunning int
	const goroutines = 20
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			l := sm.Lock("key")

			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()

			l.Unlock()
			wg.Done()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxRunning)
}

func TestStripedMutexDifferentKeysConcurrent(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}
	t.Parallel()

	sm := newStripedMutex(8)

	var mu sync.Mutex
	var running, maxRunning int
	const goroutines = 20
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		key := "a"
		if i%2 == 0 {
			key = "b"
		}
		go func(k string) {
			l := sm.Lock(k)

			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()

			l.Unlock()
			wg.Done()
		}(key)
	}
	wg.Wait()

	require.Greater(t, maxRunning, 1)
}

func TestLimitStringLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		lineCount int
		head      bool
		expected  string
	}{
		{
			name:      "no_truncation",
			input:     "line1\nline2\nline3",
			lineCount: 4,
			head:      true,
			expected:  "line1\nline2\nline3",
		},
		{
			name:      "truncate_from_head",
			input:     "a\nb\nc\nd",
			lineCount: 2,
			head:      true,
			expected:  "a\nb",
		},
		{
			name:      "truncate_from_tail",
			input:     "a\nb\nc\nd",
			lineCount: 2,
			head:      false,
			expected:  "c\nd",
		},
		{
			name:      "empty_string",
			input:     "",
			lineCount: 1,
			head:      true,
			expected:  "",
		},
		{
			name:      "single_line",
			input:     "single",
			lineCount: 1,
			head:      true,
			expected:  "single",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := limitStringLines(tt.input, tt.lineCount, tt.head)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestStripedMutexHash(t *testing.T) {
	t.Parallel()

	sm := newStripedMutex(8)
	assert.Equal(t, sm.hash("/src/a.go"), sm.hash("/src/a.go"))
	assert.NotEqual(t, sm.hash("/src/a.go"), sm.hash("/src/b.go"))
	assert.Same(t, sm.getLock("/src/a.go"), sm.getLock("/src/a.go"))
}
