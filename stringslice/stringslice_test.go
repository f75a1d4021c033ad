package stringslice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContains(t *testing.T) {
	cases := []struct {
		name        string
		inputSearch string
		inputSlice  []string
		expected    bool
	}{
		{
			name:        "Should return false for an empty slice",
			inputSlice:  []string{},
			inputSearch: "A",
			expected:    false,
		},
		{
			name:        "Should return false if the searchString is not present",
			inputSlice:  []string{"A", "CNAME"},
			inputSearch: "TXT",
			expected:    false,
		},
		{
			name:        "Should return true if the searchString is present",
			inputSlice:  []string{"A", "CNAME"},
			inputSearch: "CNAME",
			expected:    true,
		},
		{
			name:        "Should be case sensitive",
			inputSlice:  []string{"A", "CNAME"},
			inputSearch: "cname",
			expected:    false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			output := Contains(tc.inputSlice, tc.inputSearch)
			assert.Equal(t, tc.expected, output)
		})
	}
}

func TestFindIndex(t *testing.T) {
	cases := []struct {
		name        string
		inputSearch string
		inputSlice  []string
		expected    int
	}{
		{
			name:        "Should return -1 for an empty slice",
			inputSlice:  []string{},
			inputSearch: "foo",
			expected:    -1,
		},
		{
			name:        "Should return -1 if the searchString is not present",
			inputSlice:  []string{"foo", "bar", "baz"},
			inputSearch: "hello",
			expected:    -1,
		},
		{
			name:        "Should return the first index if the searchString is present multiple times",
			inputSlice:  []string{"foo", "bar", "foo", "baz"},
			inputSearch: "foo",
			expected:    0,
		},
		{
			name:        "Should return the index of the searchString",
			inputSlice:  []string{"foo", "bar", "baz"},
			inputSearch: "baz",
			expected:    2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			output := FindIndex(tc.inputSlice, tc.inputSearch)
			assert.Equal(t, tc.expected, output)
		})
	}
}

func TestSplitList(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Should return an empty slice for an empty string",
			input:    "",
			expected: []string{},
		},
		{
			name:     "Should trim whitespace around items",
			input:    " https://api.ipify.org ,\thttps://icanhazip.com",
			expected: []string{"https://api.ipify.org", "https://icanhazip.com"},
		},
		{
			name:     "Should drop empty items",
			input:    "a,,b,",
			expected: []string{"a", "b"},
		},
		{
			name:     "Should drop duplicates and keep the first position",
			input:    "a,b,a,c",
			expected: []string{"a", "b", "c"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SplitList(tc.input, ","))
		})
	}
}
