package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflowdb/reflow/internal/schema"
)

const testSchema = `-- @@{ cascadeNotify={ delete=[address] } }
CREATE TABLE person (
    id INTEGER PRIMARY KEY,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    birth_date TEXT -- @@{ propertyType=LocalDate }
);

CREATE TABLE address (
    id INTEGER PRIMARY KEY,
    person_id INTEGER NOT NULL REFERENCES person(id) ON DELETE CASCADE,
    street TEXT NOT NULL,
    city TEXT NOT NULL,
    postal_code TEXT
);

CREATE VIEW person_contact AS
SELECT p.id, p.email FROM person p;
`

func testAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	model := schema.NewBuilder(nil)
	require.NoError(t, model.AddFile("app", "schema.sql", testSchema))
	require.NoError(t, model.ResolveViews())
	return NewAnalyzer(model, NewSharedResults(), nil)
}

func TestAnalyze_SelectFlat(t *testing.T) {
	a := testAnalyzer(t)
	spec, err := a.AnalyzeFile("app", "selectPerson", "selectPerson.sql",
		"SELECT id, first_name, email FROM person WHERE id = :id;")
	require.NoError(t, err)

	assert.True(t, spec.IsRead())
	assert.Equal(t, []string{"person"}, spec.ReadTables)
	assert.Empty(t, spec.WriteTables)

	require.Len(t, spec.Params, 1)
	assert.Equal(t, "id", spec.Params[0].Name)
	assert.Equal(t, 1, spec.Params[0].Index)
	assert.Equal(t, schema.TypeInteger, spec.Params[0].PropertyType)
	assert.True(t, spec.Params[0].NotNull)

	require.NotNil(t, spec.Result)
	require.Len(t, spec.Result.Columns, 3)
	assert.Equal(t, KindFlat, spec.Result.Kind)

	first := spec.Result.Columns[1]
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, "first_name", first.Name)
	assert.Equal(t, "firstName", first.PropertyName)
	assert.Equal(t, schema.TypeText, first.PropertyType)
	assert.True(t, first.NotNull)
}

func TestAnalyze_CollectionField(t *testing.T) {
	a := testAnalyzer(t)
	src := `-- @@{ sharedResult=PersonWithAddresses }
-- @@{ dynamicField=addresses, mappingType=collection, sourceTable=a, aliasPrefix=address__, collectionKey=id }
SELECT
    p.id,
    p.first_name,
    p.last_name,
    a.id AS address__id,
    a.street AS address__street,
    a.city AS address__city
FROM person p
LEFT JOIN address a ON a.person_id = p.id;
`
	spec, err := a.AnalyzeFile("app", "personWithAddresses", "personWithAddresses.sql", src)
	require.NoError(t, err)

	root := spec.Result
	require.NotNil(t, root)
	require.Len(t, root.Columns, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{root.Columns[0].Index, root.Columns[1].Index, root.Columns[2].Index})

	require.Len(t, root.Children, 1)
	child := root.Children[0]
	assert.Equal(t, KindCollection, child.Kind)
	assert.Equal(t, "addresses", child.Name)
	assert.Equal(t, "address", child.SourceTable)
	assert.Equal(t, "id", child.GroupKey)

	require.Len(t, child.Columns, 3)
	assert.Equal(t, "id", child.Columns[0].Name)
	assert.Equal(t, 3, child.Columns[0].Index)
	assert.Equal(t, "street", child.Columns[1].Name)
	assert.Equal(t, "street", child.Columns[1].PropertyName)
	assert.True(t, child.Columns[1].NotNull)

	assert.Equal(t, "PersonWithAddresses", spec.SharedResult)
	canonical, ok := a.Shared().Node("app", "PersonWithAddresses")
	require.True(t, ok)
	assert.Same(t, canonical, spec.CanonicalResult())

	// Both joined tables land in the invalidation set.
	assert.Equal(t, []string{"address", "person"}, spec.InvalidationSet())
}

func TestAnalyze_SharedResultConflict(t *testing.T) {
	a := testAnalyzer(t)
	_, err := a.AnalyzeFile("app", "q1", "q1.sql",
		"-- @@{ sharedResult=PersonRow }\nSELECT id, first_name FROM person;")
	require.NoError(t, err)

	_, err = a.AnalyzeFile("app", "q2", "q2.sql",
		"-- @@{ sharedResult=PersonRow }\nSELECT id, email FROM person;")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "PersonRow", conflict.Name)
	assert.Contains(t, conflict.Detail, "q1.sql")

	// A structurally identical redeclaration shares the canonical node.
	spec3, err := a.AnalyzeFile("app", "q3", "q3.sql",
		"-- @@{ sharedResult=PersonRow }\nSELECT id, first_name FROM person;")
	require.NoError(t, err)
	canonical, _ := a.Shared().Node("app", "PersonRow")
	assert.Same(t, canonical, spec3.CanonicalResult())
	assert.NotSame(t, canonical, spec3.Result)
}

func TestAnalyze_DeleteCascade(t *testing.T) {
	a := testAnalyzer(t)
	spec, err := a.AnalyzeFile("app", "deletePerson", "deletePerson.sql",
		"DELETE FROM person WHERE id = :id;")
	require.NoError(t, err)

	assert.False(t, spec.IsRead())
	assert.Nil(t, spec.Result)
	assert.Equal(t, []string{"person"}, spec.WriteTables)
	assert.Equal(t, []string{"address", "person"}, spec.AffectedTables)
}

func TestAnalyze_InsertReturning(t *testing.T) {
	a := testAnalyzer(t)
	spec, err := a.AnalyzeFile("app", "insertPerson", "insertPerson.sql",
		"INSERT INTO person (first_name, last_name, email) VALUES (:first, :last, :email) RETURNING id, first_name;")
	require.NoError(t, err)

	assert.True(t, spec.Returning)
	assert.Equal(t, []string{"person"}, spec.AffectedTables)

	require.Len(t, spec.Params, 3)
	assert.Equal(t, "first_name", spec.Params[0].Column)
	assert.Equal(t, schema.TypeText, spec.Params[0].PropertyType)
	assert.True(t, spec.Params[0].NotNull)

	require.NotNil(t, spec.Result)
	require.Len(t, spec.Result.Columns, 2)
	assert.Equal(t, "id", spec.Result.Columns[0].Name)
}

func TestAnalyze_UnresolvableColumn(t *testing.T) {
	a := testAnalyzer(t)
	_, err := a.AnalyzeFile("app", "bad", "bad.sql", "SELECT nope FROM person;")
	var typeErr *TypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "nope", typeErr.Column)
}

func TestAnalyze_MissingGroupingKey(t *testing.T) {
	a := testAnalyzer(t)
	src := `-- @@{ dynamicField=addresses, mappingType=collection, sourceTable=a, aliasPrefix=address__ }
SELECT p.id, a.street AS address__street
FROM person p
LEFT JOIN address a ON a.person_id = p.id;
`
	_, err := a.AnalyzeFile("app", "bad", "bad.sql", src)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Detail, "grouping key")
}

func TestAnalyze_ViewReads(t *testing.T) {
	a := testAnalyzer(t)
	spec, err := a.AnalyzeFile("app", "contacts", "contacts.sql", "SELECT * FROM person_contact;")
	require.NoError(t, err)

	// The view dissolves into its base table for invalidation.
	assert.Equal(t, []string{"person"}, spec.ReadTables)

	require.Len(t, spec.Result.Columns, 2)
	email := spec.Result.Columns[1]
	assert.Equal(t, "email", email.Name)
	assert.Equal(t, schema.TypeText, email.PropertyType)
	assert.True(t, email.NotNull)
}

func TestAnalyze_ColumnOverride(t *testing.T) {
	a := testAnalyzer(t)
	src := `SELECT
    id,
    email -- @@{ property=contactEmail }
FROM person;
`
	spec, err := a.AnalyzeFile("app", "q", "q.sql", src)
	require.NoError(t, err)
	require.Len(t, spec.Result.Columns, 2)
	assert.Equal(t, "contactEmail", spec.Result.Columns[1].PropertyName)
}

func TestAnalyze_MultipleStatements(t *testing.T) {
	a := testAnalyzer(t)
	_, err := a.AnalyzeFile("app", "q", "q.sql", "SELECT 1; SELECT 2;")
	var ae *AnalyzeError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Message, "exactly one statement")
}

type fakeIntrospector struct {
	metas []ColumnMeta
	err   error
}

func (f *fakeIntrospector) ColumnTypes(sql string) ([]ColumnMeta, error) {
	return f.metas, f.err
}

func TestAnalyze_IntrospectedExpression(t *testing.T) {
	a := testAnalyzer(t)

	spec, err := a.AnalyzeFile("app", "count", "count.sql", "SELECT COUNT(*) AS n FROM person;")
	require.NoError(t, err)
	// Without an engine source the expression falls back to nullable any.
	assert.Equal(t, schema.TypeAny, spec.Result.Columns[0].PropertyType)
	assert.False(t, spec.Result.Columns[0].NotNull)

	a.SetIntrospector(&fakeIntrospector{metas: []ColumnMeta{{Name: "n", DeclType: "INTEGER"}}})
	spec, err = a.AnalyzeFile("app", "count2", "count2.sql", "SELECT COUNT(*) AS n FROM person;")
	require.NoError(t, err)
	assert.Equal(t, schema.TypeInteger, spec.Result.Columns[0].PropertyType)
	assert.True(t, spec.Result.Columns[0].NotNull)
}

func TestStructuralEqual(t *testing.T) {
	mk := func(idx int) *ResultNode {
		return &ResultNode{
			Kind: KindFlat,
			Columns: []ResultColumn{
				{Index: idx, Name: "id", PropertyName: "id", PropertyType: schema.TypeInteger, NotNull: true},
			},
		}
	}
	// Indexes are layout, not shape.
	assert.True(t, StructuralEqual(mk(0), mk(4)))

	other := mk(0)
	other.Columns[0].NotNull = false
	assert.False(t, StructuralEqual(mk(0), other))
}
