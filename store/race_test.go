//go:build race

package store

// boltdb v1.3.1 trips the checkptr instrumentation enabled by the race detector
const raceEnabled = true
