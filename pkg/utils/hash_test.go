package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, HashString("hello"), HashString("hello"))
	assert.NotEqual(t, HashString("hello"), HashString("Hello"))
	assert.Len(t, HashString("hello"), 32)
}

func TestHashQueryNormalizes(t *testing.T) {
	base := HashQuery("how is brand power trending")

	assert.Equal(t, base, HashQuery("How is Brand Power trending"))
	assert.Equal(t, base, HashQuery("  how   is brand\tpower trending  "))
	assert.NotEqual(t, base, HashQuery("how is brand power declining"))
}
