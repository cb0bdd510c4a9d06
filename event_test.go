package hfsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventRecord_Narrowing(t *testing.T) {
	rec := newEventRecord("lease", "/nested/applied")
	assert.True(t, rec.absolute())

	rec = rec.fromRoot()
	assert.False(t, rec.absolute())
	assert.Equal(t, "lease", rec.event)

	segment, rest := rec.head()
	assert.Equal(t, "nested", segment)
	assert.Equal(t, "applied", rest)

	rec = rec.narrow(rest)
	segment, rest = rec.head()
	assert.Equal(t, "applied", segment)
	assert.Empty(t, rest)
	assert.Equal(t, "lease", rec.event)
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "a/b/c", JoinPath("a", "b", "c"))
	assert.Equal(t, "a", JoinPath("a"))

	assert.Equal(t, []string{"a", "b"}, SplitPath("a/b"))
	assert.Equal(t, []string{"a", "b"}, SplitPath("/a/b"))
	assert.Nil(t, SplitPath(""))
	assert.Nil(t, SplitPath("/"))

	assert.True(t, validName("booked"))
	assert.False(t, validName(""))
	assert.False(t, validName("a/b"))
}
