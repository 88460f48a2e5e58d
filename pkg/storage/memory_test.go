package storage

import (
	"testing"
)

func TestMemory(t *testing.T) {
	testDatabase(t, NewMemory())
}
