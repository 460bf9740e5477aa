package lens

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitedRollingBufferWriter(t *testing.T) {
	t.Parallel()

	type step struct {
		data            []byte
		expectedContent string
		expectedLength  int
	}

	tests := []struct {
		name      string
		sizeLimit int
		steps     []step
	}{
		{
			name:      "single_write_no_truncate",
			sizeLimit: 10,
			steps: []step{{
				data:            []byte("hello"),
				expectedContent: "hello",
				expectedLength:  5,
			}},
		},
		{
			name:      "multiple_writes_with_truncations",
			sizeLimit: 8,
			steps: []step{
				{
					data:            []byte("12345"),
					expectedContent: "12345",
					expectedLength:  5,
				},
				{
					data:            []byte("67890"),
					expectedContent: "...7890",
					expectedLength:  7,
				},
				{
					data:            []byte("abc"),
					expectedContent: "...0abc",
					expectedLength:  7,
				},
				{
					data:            []byte("def"),
					expectedContent: "...cdef",
					expectedLength:  7,
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			writer := newLimitedRollingBufferWriter(buf, tt.sizeLimit)

			for _, step := range tt.steps {
				n, err := writer.Write(step.data)
				require.NoError(t, err)
				assert.Equal(t, len(step.data), n)
				assert.Equal(t, step.expectedContent, buf.String())
				assert.Equal(t, step.expectedLength, buf.Len())
			}
		})
	}
}

func TestLimitedRollingBufferConcurrentWrite(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	writer := newLimitedRollingBufferWriter(buf, 64)
	var wg sync.WaitGroup
	const workers = 10
	const loops = 100
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < loops; j++ {
				_, _ = writer.Write([]byte("a"))
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, buf.Len(), 64)
	assert.True(t, strings.HasPrefix(buf.String(), "..."))
}
