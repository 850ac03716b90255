package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllFramesVocabulary(t *testing.T) {
	frames := AllFrames()
	assert.Len(t, frames, 21)
	assert.Equal(t, "STFST00", frames[0])
	assert.Equal(t, "STFST42", frames[14])
	assert.Equal(t, "STFOUCH0", frames[15])
	assert.Equal(t, "STFDEAD0", frames[20])
}

func TestIsFrameName(t *testing.T) {
	assert.True(t, IsFrameName("STFST21"))
	assert.True(t, IsFrameName("STFOUCH3"))
	assert.True(t, IsFrameName(DeadFrame))

	assert.False(t, IsFrameName("STFST51"))
	assert.False(t, IsFrameName("STFST03"))
	assert.False(t, IsFrameName("STFPAIN0"))
	assert.False(t, IsFrameName("../STFST01"))
	assert.False(t, IsFrameName(""))
}

func TestLookIndex(t *testing.T) {
	assert.Equal(t, 0, LookLeft.Index())
	assert.Equal(t, 1, LookCenter.Index())
	assert.Equal(t, 2, LookRight.Index())
	assert.Equal(t, "STFST32", StraightFrame(3, LookRight))
}
