package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_Chunk(t *testing.T) {
	t.Run("hello world with size 6 overlap 2", func(t *testing.T) {
		c := New(6, 2)
		segments, err := c.Chunk("hello world")
		require.NoError(t, err)
		require.Len(t, segments, 3)

		assert.Equal(t, Segment{ChunkNum: 0, Text: "hello ", CharStart: 0, CharEnd: 6}, segments[0])
		assert.Equal(t, Segment{ChunkNum: 1, Text: "o worl", CharStart: 4, CharEnd: 10}, segments[1])
		assert.Equal(t, Segment{ChunkNum: 2, Text: "rld", CharStart: 8, CharEnd: 11}, segments[2])
	})

	t.Run("foo bar with size 6 overlap 2", func(t *testing.T) {
		c := New(6, 2)
		segments, err := c.Chunk("foo bar")
		require.NoError(t, err)
		require.Len(t, segments, 2)

		assert.Equal(t, "foo ba", segments[0].Text)
		assert.Equal(t, "bar", segments[1].Text)
		assert.Equal(t, 4, segments[1].CharStart)
		assert.Equal(t, 7, segments[1].CharEnd)
	})

	t.Run("text shorter than chunk size yields one segment", func(t *testing.T) {
		c := New(1000, 200)
		segments, err := c.Chunk("hi")
		require.NoError(t, err)
		require.Len(t, segments, 1)
		assert.Equal(t, Segment{ChunkNum: 0, Text: "hi", CharStart: 0, CharEnd: 2}, segments[0])
	})

	t.Run("empty input yields zero segments", func(t *testing.T) {
		c := New(6, 2)
		segments, err := c.Chunk("")
		require.NoError(t, err)
		assert.Empty(t, segments)
	})

	t.Run("whitespace-only input yields zero segments", func(t *testing.T) {
		c := New(6, 2)
		segments, err := c.Chunk("  \n\t  ")
		require.NoError(t, err)
		assert.Empty(t, segments)
	})

	t.Run("overlap equal to size is a configuration error", func(t *testing.T) {
		c := &Chunker{Size: 10, Overlap: 10}
		_, err := c.Chunk("some text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "overlap")
	})

	t.Run("negative overlap is a configuration error", func(t *testing.T) {
		c := &Chunker{Size: 10, Overlap: -1}
		_, err := c.Chunk("some text")
		require.Error(t, err)
	})

	t.Run("multibyte runes are counted as code points", func(t *testing.T) {
		c := New(4, 1)
		segments, err := c.Chunk("héllo wörld")
		require.NoError(t, err)
		require.NotEmpty(t, segments)

		runes := []rune("héllo wörld")
		for _, seg := range segments {
			assert.Equal(t, string(runes[seg.CharStart:seg.CharEnd]), seg.Text)
			assert.LessOrEqual(t, seg.CharEnd-seg.CharStart, 4)
		}
	})
}

func TestChunker_Determinism(t *testing.T) {
	c := New(50, 10)
	text := "The quick brown fox jumps over the lazy dog. " +
		"Pack my box with five dozen liquor jugs. " +
		"How vexingly quick daft zebras jump!"

	first, err := c.Chunk(text)
	require.NoError(t, err)
	second, err := c.Chunk(text)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestChunker_OffsetsCoverText(t *testing.T) {
	c := New(7, 3)
	text := "abcdefghijklmnopqrstuvwxyz0123456789"
	segments, err := c.Chunk(text)
	require.NoError(t, err)
	require.NotEmpty(t, segments)

	runes := []rune(text)
	prevEnd := 0
	for i, seg := range segments {
		assert.Equal(t, i, seg.ChunkNum)
		assert.Less(t, seg.CharStart, seg.CharEnd)
		assert.Equal(t, string(runes[seg.CharStart:seg.CharEnd]), seg.Text)

		// Adjacent chunks overlap by exactly the configured amount,
		// except for the final truncated chunk.
		if i > 0 {
			assert.Equal(t, seg.CharStart, (c.Size-c.Overlap)*i)
		}
		assert.GreaterOrEqual(t, prevEnd, seg.CharStart)
		prevEnd = seg.CharEnd
	}
	assert.Equal(t, len(runes), segments[len(segments)-1].CharEnd)
}
