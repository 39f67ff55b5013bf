//go:build !integration

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safkaty/safkaty/internal/config"
	"github.com/safkaty/safkaty/internal/model"
	"github.com/safkaty/safkaty/internal/store"
)

func useSQLiteConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "safkaty.db")
	oldCfg := cfg
	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: path}}
	t.Cleanup(func() { cfg = oldCfg })
	return path
}

func testCommand() *cobra.Command {
	c := &cobra.Command{}
	c.SetContext(context.Background())
	return c
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"0", "-3", "abc", ""} {
		_, err := parseID(bad)
		assert.Error(t, err, "parseID(%q)", bad)
	}
}

func TestWithStore_OpensMigratedStore(t *testing.T) {
	path := useSQLiteConfig(t)

	err := withStore(testCommand(), func(ctx context.Context, st store.Store) error {
		isNew, id, err := st.Upsert(ctx, model.Tender{Reference: "R-1", Title: "Fournitures"})
		require.NoError(t, err)
		assert.True(t, isNew)

		require.NoError(t, st.UpdateStatus(ctx, id, model.StatusInProgress))
		return nil
	})
	require.NoError(t, err)
	assert.FileExists(t, path)

	// A second open sees the same data.
	err = withStore(testCommand(), func(ctx context.Context, st store.Store) error {
		tenders, err := st.List(ctx, store.ListFilter{Status: model.StatusInProgress})
		require.NoError(t, err)
		require.Len(t, tenders, 1)
		assert.Equal(t, "R-1", tenders[0].Reference)
		return nil
	})
	require.NoError(t, err)
}

func TestWithStore_InvalidConfig(t *testing.T) {
	oldCfg := cfg
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql", DatabaseURL: "x"}}
	defer func() { cfg = oldCfg }()

	called := false
	err := withStore(testCommand(), func(context.Context, store.Store) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.False(t, called)
}

func TestWithStore_PropagatesError(t *testing.T) {
	useSQLiteConfig(t)

	err := withStore(testCommand(), func(ctx context.Context, st store.Store) error {
		return st.UpdatePriority(ctx, 99, 1)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
