package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/knowledgebase/engine/core"
)

func TestSplit(t *testing.T) {
	t.Run("Should return empty sequence for empty text", func(t *testing.T) {
		chunks, err := Split("", 10, 2)
		require.NoError(t, err)
		assert.NotNil(t, chunks)
		assert.Empty(t, chunks)
	})

	t.Run("Should reject invalid parameters", func(t *testing.T) {
		for _, tc := range []struct{ size, overlap int }{{0, 0}, {-1, 0}, {10, 10}, {10, 11}, {10, -1}} {
			_, err := Split("text", tc.size, tc.overlap)
			require.Error(t, err, "size=%d overlap=%d", tc.size, tc.overlap)
			assert.ErrorIs(t, err, core.ErrInvalidInput)
		}
		_, err := NewChunker(5, 5)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})

	t.Run("Should advance by size minus overlap and keep the short tail", func(t *testing.T) {
		chunks, err := Split("abcdefghij", 4, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"abcd", "defg", "ghij"}, chunks)

		chunks, err = Split("abcdefghijk", 4, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"abcd", "defg", "ghij", "jk"}, chunks)
	})

	t.Run("Should return a single chunk when text fits the window", func(t *testing.T) {
		chunks, err := Split("  short text  ", 500, 50)
		require.NoError(t, err)
		assert.Equal(t, []string{"short text"}, chunks)
	})

	t.Run("Should skip windows that trim to empty", func(t *testing.T) {
		chunks, err := Split("ab      cd", 4, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"ab", "cd"}, chunks)

		chunks, err = Split("   \n\t  ", 3, 1)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Should not split multibyte characters", func(t *testing.T) {
		chunks, err := Split("héllo wörld ünïcode", 5, 1)
		require.NoError(t, err)
		for _, c := range chunks {
			assert.Equal(t, strings.ToValidUTF8(c, ""), c)
		}
		assert.Equal(t, "héllo", chunks[0])
	})

	t.Run("Should be deterministic", func(t *testing.T) {
		text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
		first, err := Split(text, 120, 30)
		require.NoError(t, err)
		second, err := Split(text, 120, 30)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("Should cover every non-space character of the text", func(t *testing.T) {
		text := "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor."
		runes := []rune(text)
		for _, params := range []struct{ size, overlap int }{{1, 0}, {3, 2}, {7, 0}, {10, 3}, {16, 15}, {100, 10}} {
			chunker, err := NewChunker(params.size, params.overlap)
			require.NoError(t, err)
			chunks := chunker.Split(text)
			covered := make([]bool, len(runes))
			step := params.size - params.overlap
			for start := 0; start < len(runes); start += step {
				end := min(start+params.size, len(runes))
				window := strings.TrimSpace(string(runes[start:end]))
				if window != "" {
					assert.Contains(t, chunks, window)
				}
				for i := start; i < end; i++ {
					covered[i] = true
				}
				if end == len(runes) {
					break
				}
			}
			for i, r := range runes {
				if r != ' ' {
					assert.True(t, covered[i], "rune %d uncovered for size=%d overlap=%d", i, params.size, params.overlap)
				}
			}
			for _, c := range chunks {
				assert.Contains(t, text, c)
			}
			assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1]))
		}
	})
}
