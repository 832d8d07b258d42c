package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWords_Count(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"spaces only", "   \n\t", 0},
		{"plain words", "one two three", 3},
		{"trailing punctuation joins word", "Hello, world.", 2},
		{"standalone punctuation counts", "wait - what ?", 4},
		{"unicode", "naïve café résumé", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Words{}.Count(tt.text))
		})
	}
}

func TestTiktoken_CountOffline(t *testing.T) {
	counter, err := NewTiktoken(DefaultEncoding)
	require.NoError(t, err)

	assert.Equal(t, 0, counter.Count(""))
	assert.Equal(t, 2, counter.Count("hello world"))
	assert.Equal(t, counter.Count("The quick brown fox."), counter.Count("The quick brown fox."))
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New("bytes")
	assert.Error(t, err)

	c, err := New("words")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count("x"))
}
