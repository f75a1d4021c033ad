package stringslice

import "strings"

// Contains returns true if the given string is present at least once in the slice
func Contains(col []string, item string) bool {
	return FindIndex(col, item) != -1
}

// FindIndex returns the index of a particular string
// Returns -1 if the string is not present in the slice
func FindIndex(col []string, item string) int {
	for i := range col {
		if col[i] == item {
			return i
		}
	}
	return -1
}

// SplitList splits a separated list into its trimmed, non-empty items
// Duplicates are dropped, the first occurrence wins and order is preserved
func SplitList(value string, sep string) []string {
	out := []string{}
	for _, item := range strings.Split(value, sep) {
		item = strings.Trim(item, " \t\n")
		if item == "" || Contains(out, item) {
			continue
		}
		out = append(out, item)
	}
	return out
}
