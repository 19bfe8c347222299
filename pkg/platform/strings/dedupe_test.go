package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	assert.Equal(t, []string{"foo", "bar"}, DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "}))

	var empty []string
	assert.Equal(t, empty, DedupeAndTrim(nil))
}

func TestSortedSet(t *testing.T) {
	assert.Equal(t, []string{"driver", "guide", "tourist"},
		SortedSet([]string{"tourist", " guide", "driver", "tourist "}))
	assert.Empty(t, SortedSet([]string{"", "   "}))
}
