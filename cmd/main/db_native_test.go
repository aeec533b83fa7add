//go:build !cgo_sqlite

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNativeDSN(t *testing.T) {
	assert.Equal(t, "data/h.db", nativeDSN("data/h.db"))
	assert.Equal(t,
		"./data/h.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&cache=shared",
		nativeDSN("./data/h.db?_journal_mode=WAL&_busy_timeout=5000&cache=shared"))
}
