//go:build !sqlite

package storage

import (
	"errors"
	"testing"
)

func TestNewStoreSQLiteRequiresBuildTag(t *testing.T) {
	_, err := NewStore("sqlite", "archsearch.db")
	if !errors.Is(err, errSQLiteUnavailable) {
		t.Fatalf("expected sqlite unavailable error, got %v", err)
	}
}
