package schema

import (
	"testing"

	"github.com/reflowdb/reflow/internal/depgraph"
)

const personSchema = `-- @@{ cascadeNotify={delete:[address], update:[person_view]} }
CREATE TABLE person (
    id INTEGER PRIMARY KEY,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    phone TEXT, -- @@{ property=phoneNumber }
    birth_date TEXT, -- @@{ propertyType=LocalDate, notNull=true }
    created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

func TestBuilder_TableDirectives(t *testing.T) {
	b := NewBuilder(nil)
	if err := b.AddFile("person", "person.sql", personSchema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spec, ok := b.Table("person")
	if !ok {
		t.Fatal("person table not registered")
	}
	if spec.Namespace != "person" {
		t.Errorf("namespace = %q", spec.Namespace)
	}
	if len(spec.Columns) != 7 {
		t.Fatalf("expected 7 columns, got %d", len(spec.Columns))
	}

	if got := spec.CascadeDelete; len(got) != 1 || got[0] != "address" {
		t.Errorf("CascadeDelete = %v", got)
	}
	if got := spec.CascadeUpdate; len(got) != 1 || got[0] != "person_view" {
		t.Errorf("CascadeUpdate = %v", got)
	}

	phone := spec.Column("phone")
	if phone == nil || phone.PropertyName != "phoneNumber" {
		t.Errorf("phone = %+v", phone)
	}
	if phone.NotNull {
		t.Error("phone should stay nullable")
	}

	birth := spec.Column("birth_date")
	if birth == nil || birth.PropertyType != "LocalDate" {
		t.Errorf("birth_date = %+v", birth)
	}
	if !birth.NotNull {
		t.Error("notNull directive should win over introspected nullability")
	}

	created := spec.Column("created_at")
	if created.PropertyName != "createdAt" {
		t.Errorf("createdAt property = %q", created.PropertyName)
	}
	if created.PropertyType != TypeText {
		t.Errorf("createdAt type = %q", created.PropertyType)
	}

	if pk := spec.PrimaryKeyColumn(); pk != "id" {
		t.Errorf("primary key = %q", pk)
	}
}

func TestBuilder_CascadeGraph(t *testing.T) {
	b := NewBuilder(nil)
	if err := b.AddFile("person", "person.sql", personSchema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g := b.Graph()
	got := g.Expand(depgraph.EdgeDelete, []string{"person"})
	want := map[string]bool{"person": true, "address": true}
	if len(got) != len(want) {
		t.Fatalf("Expand = %v", got)
	}
	for _, name := range got {
		if !want[name] {
			t.Errorf("unexpected table %q in expansion", name)
		}
	}
}

func TestBuilder_ForeignKeys(t *testing.T) {
	src := `CREATE TABLE address (
    id INTEGER PRIMARY KEY,
    person_id INTEGER NOT NULL REFERENCES person(id) ON DELETE CASCADE,
    city TEXT NOT NULL
);`

	b := NewBuilder(nil)
	if err := b.AddFile("address", "address.sql", src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	spec, _ := b.Table("address")
	if len(spec.ForeignKeys) != 1 {
		t.Fatalf("fks = %+v", spec.ForeignKeys)
	}
	fk := spec.ForeignKeys[0]
	if fk.RefTable != "person" || fk.OnDelete != "CASCADE" {
		t.Errorf("fk = %+v", fk)
	}
}

func TestBuilder_DuplicateTable(t *testing.T) {
	b := NewBuilder(nil)
	src := `CREATE TABLE t (id INTEGER PRIMARY KEY);`
	if err := b.AddFile("t", "a.sql", src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.AddFile("t", "b.sql", src); err == nil {
		t.Error("expected duplicate table error")
	}
}

func TestBuilder_UnknownDirectiveKey(t *testing.T) {
	src := `-- @@{ cascadeDelete=[x] }
CREATE TABLE t (id INTEGER PRIMARY KEY);`

	b := NewBuilder(nil)
	if err := b.AddFile("t", "t.sql", src); err == nil {
		t.Error("expected unknown key error")
	}
}

func TestBuilder_ExplicitFieldBinding(t *testing.T) {
	src := `-- @@{ field=note, propertyType=Markdown }
CREATE TABLE item (
    id INTEGER PRIMARY KEY,
    note TEXT
);`

	b := NewBuilder(nil)
	if err := b.AddFile("item", "item.sql", src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	spec, _ := b.Table("item")
	if got := spec.Column("note").PropertyType; got != "Markdown" {
		t.Errorf("note type = %q, want Markdown", got)
	}
}

func TestBuilder_ResolveViews(t *testing.T) {
	b := NewBuilder(nil)
	if err := b.AddFile("person", "person.sql", personSchema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	view := `CREATE VIEW person_contact AS
SELECT p.id, p.email, p.phone, p.first_name || ' ' || p.last_name AS full_name
FROM person p;`
	if err := b.AddFile("person", "views.sql", view); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.ResolveViews(); err != nil {
		t.Fatalf("ResolveViews: %v", err)
	}

	spec, ok := b.Table("person_contact")
	if !ok {
		t.Fatal("view not registered")
	}
	if !spec.View {
		t.Error("expected view spec")
	}
	if len(spec.Columns) != 4 {
		t.Fatalf("expected 4 columns, got %d: %+v", len(spec.Columns), spec.Columns)
	}

	email := spec.Column("email")
	if email == nil || !email.NotNull || email.PropertyType != TypeText {
		t.Errorf("email = %+v", email)
	}
	full := spec.Column("full_name")
	if full == nil || full.NotNull || full.PropertyType != TypeAny {
		t.Errorf("full_name = %+v", full)
	}
}

func TestBuilder_ViewOnView(t *testing.T) {
	b := NewBuilder(nil)
	base := `CREATE TABLE n (id INTEGER PRIMARY KEY, v INTEGER NOT NULL);`
	v1 := `CREATE VIEW v1 AS SELECT id, v FROM n;`
	v2 := `CREATE VIEW v2 AS SELECT v FROM v1;`

	// Deliberately add the dependent view first.
	if err := b.AddFile("n", "n.sql", base); err != nil {
		t.Fatal(err)
	}
	if err := b.AddFile("n", "v2.sql", v2); err != nil {
		t.Fatal(err)
	}
	if err := b.AddFile("n", "v1.sql", v1); err != nil {
		t.Fatal(err)
	}
	if err := b.ResolveViews(); err != nil {
		t.Fatalf("ResolveViews: %v", err)
	}

	spec, _ := b.Table("v2")
	if len(spec.Columns) != 1 || spec.Columns[0].PropertyType != TypeInteger {
		t.Errorf("v2 columns = %+v", spec.Columns)
	}
}

func TestAffinityType(t *testing.T) {
	tests := []struct {
		storage string
		want    string
	}{
		{"INTEGER", TypeInteger},
		{"INT", TypeInteger},
		{"BIGINT", TypeInteger},
		{"VARCHAR(30)", TypeText},
		{"TEXT", TypeText},
		{"BLOB", TypeBlob},
		{"", TypeBlob},
		{"REAL", TypeReal},
		{"DOUBLE", TypeReal},
		{"BOOLEAN", TypeBool},
		{"NUMERIC", TypeAny},
		{"DATETIME", TypeAny},
	}
	for _, tt := range tests {
		if got := AffinityType(tt.storage); got != tt.want {
			t.Errorf("AffinityType(%q) = %q, want %q", tt.storage, got, tt.want)
		}
	}
}

func TestPropertyName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"first_name", "firstName"},
		{"id", "id"},
		{"created_at", "createdAt"},
		{"a_b_c", "aBC"},
		{"ID", "iD"},
	}
	for _, tt := range tests {
		if got := PropertyName(tt.in); got != tt.want {
			t.Errorf("PropertyName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
