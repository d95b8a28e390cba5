package shell

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTailKeepsEverythingUnderCap(t *testing.T) {
	tail := NewTail(16)
	tail.Write([]byte("hello "))
	tail.Write([]byte("world"))

	assert.Equal(t, "hello world", tail.String())
	assert.Zero(t, tail.Dropped())
}

func TestTailDropsOldestBytes(t *testing.T) {
	tail := NewTail(8)
	tail.Write([]byte("0123456789"))
	tail.Write([]byte("ab"))

	assert.Equal(t, "456789ab", string(tail.Bytes()))
	assert.EqualValues(t, 4, tail.Dropped())
	assert.EqualValues(t, 12, tail.Len())
	assert.True(t, strings.HasPrefix(tail.String(), "...[4 earlier bytes dropped]\n"),
		"missing drop notice: %q", tail.String())
}

func TestTailSmallWritesRollOver(t *testing.T) {
	tail := NewTail(4)
	for _, c := range "abcdefg" {
		tail.Write([]byte(string(c)))
	}
	assert.Equal(t, "defg", string(tail.Bytes()))
}

func TestTailSkipsPartialRune(t *testing.T) {
	tail := NewTail(4)
	// "é" is two bytes; keep 4 bytes of "xé" + "abc" = 1+2+3 bytes.
	tail.Write([]byte("xéabc"))
	got := tail.String()
	assert.Equal(t, "abc", got[strings.Index(got, "\n")+1:])
}

func TestTailDefaultCap(t *testing.T) {
	tail := NewTail(0)
	tail.Write([]byte(strings.Repeat("x", DefaultTailBytes+10)))
	assert.Len(t, tail.Bytes(), DefaultTailBytes)
}
