package compile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/reflowdb/reflow/internal/config"
	"github.com/reflowdb/reflow/internal/testutil"
)

const personSchema = `-- @@{ cascadeNotify={ delete=[address] } }
CREATE TABLE person (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE
);

CREATE TABLE address (
    id INTEGER PRIMARY KEY,
    person_id INTEGER NOT NULL REFERENCES person(id) ON DELETE CASCADE,
    city TEXT NOT NULL
);
`

func writeProject(t *testing.T, queries map[string]string) (*config.ProjectConfig, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app", "schema"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app", "queries"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "schema", "tables.sql"), []byte(personSchema), 0o644))
	for name, src := range queries {
		require.NoError(t, os.WriteFile(filepath.Join(root, "app", "queries", name+".sql"), []byte(src), 0o644))
	}
	cfg := &config.ProjectConfig{
		Name:       "testproj",
		Namespaces: []config.NamespaceConfig{{Name: "app"}},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg, root
}

func TestCompiler_Run(t *testing.T) {
	cfg, root := writeProject(t, map[string]string{
		"selectPerson": "SELECT id, name FROM person WHERE id = :id;",
		"deletePerson": "DELETE FROM person WHERE id = :id;",
	})
	c := New(cfg, root, testutil.NewTestLogger(t))

	res, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Model.Tables(), 2)
	assert.Len(t, res.Queries, 2)
	assert.Len(t, res.SchemaSQL, 2)

	sel, ok := res.Query("app", "selectPerson")
	require.True(t, ok)
	assert.Equal(t, []string{"person"}, sel.ReadTables)

	del, ok := res.Query("app", "deletePerson")
	require.True(t, ok)
	assert.Equal(t, []string{"address", "person"}, del.AffectedTables)
}

func TestCompiler_CollectsAllErrors(t *testing.T) {
	cfg, root := writeProject(t, map[string]string{
		"badOne": "SELECT nope FROM person;",
		"badTwo": "SELECT 1; SELECT 2;",
	})
	c := New(cfg, root, testutil.NewTestLogger(t))

	res, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	// Both failures surface in one report.
	assert.Contains(t, err.Error(), "badOne.sql")
	assert.Contains(t, err.Error(), "badTwo.sql")
}

func TestCompiler_EngineRejectsSchema(t *testing.T) {
	cfg, root := writeProject(t, nil)
	// A duplicate column name parses structurally but the engine
	// refuses it when the scratch database applies the schema.
	bad := "CREATE TABLE broken (id INTEGER, id TEXT);"
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "schema", "zz_bad.sql"), []byte(bad), 0o644))

	c := New(cfg, root, testutil.NewTestLogger(t))
	_, err := c.Run(context.Background())
	require.Error(t, err)
}

func TestManifestRoundTrip(t *testing.T) {
	cfg, root := writeProject(t, map[string]string{
		"selectPerson": "-- @@{ sharedResult=PersonRow }\nSELECT id, name FROM person;",
	})
	c := New(cfg, root, testutil.NewTestLogger(t))
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	m := BuildManifest(cfg.Name, res)
	path := filepath.Join(root, "out.yaml")
	require.NoError(t, WriteManifest(path, m))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var loaded Manifest
	require.NoError(t, yaml.Unmarshal(data, &loaded))

	assert.Equal(t, "testproj", loaded.Project)
	assert.Len(t, loaded.Tables, 2)
	require.Len(t, loaded.Queries, 1)
	assert.Equal(t, "selectPerson", loaded.Queries[0].Name)
	assert.Contains(t, loaded.SharedResults, "app/PersonRow")
}
