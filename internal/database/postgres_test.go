package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ava-backend/migrations"
)

func TestListMigrations_OrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"010_late.sql":    {Data: []byte("SELECT 1")},
		"002_second.sql":  {Data: []byte("SELECT 1")},
		"001_first.sql":   {Data: []byte("SELECT 1")},
		"README.md":       {Data: []byte("docs")},
		"notes.sql":       {Data: []byte("SELECT 1")},
		"000_zero.sql":    {Data: []byte("SELECT 1")},
		"abc_invalid.sql": {Data: []byte("SELECT 1")},
	}

	got, err := listMigrations(fsys)
	require.NoError(t, err)

	names := make([]string, 0, len(got))
	for _, m := range got {
		names = append(names, m.name)
	}
	assert.Equal(t, []string{"001_first.sql", "002_second.sql", "010_late.sql"}, names)
}

func TestListMigrations_EmbeddedSchema(t *testing.T) {
	got, err := listMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, 1, got[0].version)
}
