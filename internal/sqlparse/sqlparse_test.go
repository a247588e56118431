package sqlparse

import (
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		kind      Kind
		returning bool
	}{
		{"select", "SELECT * FROM person", KindSelect, false},
		{"insert", "INSERT INTO person (name) VALUES (:name)", KindInsert, false},
		{"insert returning", "INSERT INTO person (name) VALUES (:name) RETURNING id, name", KindInsert, true},
		{"update", "UPDATE person SET name = :name WHERE id = :id", KindUpdate, false},
		{"delete", "DELETE FROM person WHERE id = :id", KindDelete, false},
		{"with select", "WITH recent AS (SELECT id FROM person) SELECT * FROM recent", KindSelect, false},
		{"with delete", "WITH doomed AS (SELECT id FROM person) DELETE FROM person WHERE id IN (SELECT id FROM doomed)", KindDelete, false},
		{"upsert stays insert", "INSERT INTO person (id) VALUES (:id) ON CONFLICT (id) DO UPDATE SET id = :id", KindInsert, false},
		{"create", "CREATE TABLE t (id INTEGER)", KindCreate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, returning := Classify(tt.sql)
			if kind != tt.kind {
				t.Errorf("kind = %q, want %q", kind, tt.kind)
			}
			if returning != tt.returning {
				t.Errorf("returning = %v, want %v", returning, tt.returning)
			}
		})
	}
}

func TestTables_SelectJoins(t *testing.T) {
	reads, writes := Tables(`SELECT p.id, a.city FROM person p JOIN address a ON a.person_id = p.id LEFT JOIN country c ON c.id = a.country_id`)
	if len(writes) != 0 {
		t.Errorf("expected no writes, got %v", writes)
	}
	if len(reads) != 3 {
		t.Fatalf("expected 3 reads, got %v", reads)
	}
	if reads[0].Name != "person" || reads[0].Alias != "p" {
		t.Errorf("reads[0] = %+v, want person/p", reads[0])
	}
	if reads[1].Name != "address" || reads[1].Alias != "a" {
		t.Errorf("reads[1] = %+v, want address/a", reads[1])
	}
}

func TestTables_DeleteTargetIsWrite(t *testing.T) {
	reads, writes := Tables(`DELETE FROM person WHERE id IN (SELECT person_id FROM banned)`)
	if len(writes) != 1 || writes[0].Name != "person" {
		t.Fatalf("writes = %v, want [person]", writes)
	}
	if len(reads) != 1 || reads[0].Name != "banned" {
		t.Fatalf("reads = %v, want [banned]", reads)
	}
}

func TestTables_UpdateAndInsert(t *testing.T) {
	_, writes := Tables(`UPDATE person SET name = :name WHERE id = :id`)
	if len(writes) != 1 || writes[0].Name != "person" {
		t.Fatalf("update writes = %v, want [person]", writes)
	}

	reads, writes := Tables(`INSERT INTO audit_log (entry) SELECT entry FROM staging_log`)
	if len(writes) != 1 || writes[0].Name != "audit_log" {
		t.Fatalf("insert writes = %v, want [audit_log]", writes)
	}
	if len(reads) != 1 || reads[0].Name != "staging_log" {
		t.Fatalf("insert reads = %v, want [staging_log]", reads)
	}
}

func TestTables_CTENotARead(t *testing.T) {
	reads, _ := Tables(`WITH recent AS (SELECT id FROM person) SELECT * FROM recent JOIN address a ON a.person_id = recent.id`)
	for _, r := range reads {
		if r.Name == "recent" {
			t.Errorf("CTE counted as base table read: %v", reads)
		}
	}
	found := false
	for _, r := range reads {
		if r.Name == "person" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected person in reads, got %v", reads)
	}
}

func TestProjection_AliasesAndDirectRefs(t *testing.T) {
	cols, err := Projection(`SELECT p.id, p.first_name AS name, COUNT(*) cnt, birth_date FROM person p GROUP BY p.id`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols) != 4 {
		t.Fatalf("expected 4 columns, got %d: %+v", len(cols), cols)
	}

	if !cols[0].Direct || cols[0].SourceAlias != "p" || cols[0].SourceColumn != "id" || cols[0].Name != "id" {
		t.Errorf("cols[0] = %+v", cols[0])
	}
	if cols[1].Alias != "name" || cols[1].Name != "name" || !cols[1].Direct {
		t.Errorf("cols[1] = %+v", cols[1])
	}
	if cols[2].Alias != "cnt" || cols[2].Direct {
		t.Errorf("cols[2] = %+v", cols[2])
	}
	if !cols[3].Direct || cols[3].SourceColumn != "birth_date" || cols[3].SourceAlias != "" {
		t.Errorf("cols[3] = %+v", cols[3])
	}
}

func TestProjection_Star(t *testing.T) {
	cols, err := Projection(`SELECT p.*, a.city FROM person p JOIN address a ON a.person_id = p.id`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(cols))
	}
	if !cols[0].Star || cols[0].SourceAlias != "p" {
		t.Errorf("cols[0] = %+v", cols[0])
	}
}

func TestProjection_Returning(t *testing.T) {
	cols, err := Projection(`INSERT INTO person (first_name) VALUES (:first_name) RETURNING id, first_name`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("expected 2 columns, got %d: %+v", len(cols), cols)
	}
	if cols[0].Name != "id" || cols[1].Name != "first_name" {
		t.Errorf("cols = %+v", cols)
	}
}

func TestProjection_SubqueryColumnsNotSplit(t *testing.T) {
	cols, err := Projection(`SELECT id, (SELECT COUNT(*) FROM address a WHERE a.person_id = p.id) AS address_count FROM person p`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("expected 2 columns, got %d: %+v", len(cols), cols)
	}
	if cols[1].Alias != "address_count" || cols[1].Direct {
		t.Errorf("cols[1] = %+v", cols[1])
	}
}

func TestParameters_Named(t *testing.T) {
	params := Parameters(`SELECT * FROM person WHERE last_name = :lastName AND age >= :minAge LIMIT :limit`)
	if len(params) != 3 {
		t.Fatalf("expected 3 params, got %d", len(params))
	}
	if params[0].Name != "lastName" || params[0].Column != "last_name" {
		t.Errorf("params[0] = %+v", params[0])
	}
	if params[1].Name != "minAge" || params[1].Column != "age" {
		t.Errorf("params[1] = %+v", params[1])
	}
	if params[2].Name != "limit" || params[2].Column != "" {
		t.Errorf("params[2] = %+v", params[2])
	}
}

func TestParameters_InsertValuesMapping(t *testing.T) {
	params := Parameters(`INSERT INTO person (first_name, last_name, age) VALUES (:first, :last, 42)`)
	if len(params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(params))
	}
	if params[0].Column != "first_name" {
		t.Errorf("params[0].Column = %q, want first_name", params[0].Column)
	}
	if params[1].Column != "last_name" {
		t.Errorf("params[1].Column = %q, want last_name", params[1].Column)
	}
}

func TestParameters_Positional(t *testing.T) {
	params := Parameters(`UPDATE person SET first_name = ? WHERE id = ?`)
	if len(params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(params))
	}
	if params[0].Name != "" || params[0].Column != "first_name" {
		t.Errorf("params[0] = %+v", params[0])
	}
	if params[1].Column != "id" {
		t.Errorf("params[1] = %+v", params[1])
	}
}

func TestParseCreate_Table(t *testing.T) {
	sql := `CREATE TABLE IF NOT EXISTS person (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL DEFAULT '',
    age INTEGER,
    address_id INTEGER REFERENCES address(id) ON DELETE CASCADE ON UPDATE SET NULL,
    score REAL DEFAULT -1.5,
    UNIQUE (first_name, last_name)
)`

	stmt, err := ParseCreate("person.sql", sql)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stmt.View {
		t.Error("expected table, got view")
	}
	if stmt.Name != "person" || !stmt.IfNotExists {
		t.Errorf("stmt = %+v", stmt)
	}
	if len(stmt.Columns) != 6 {
		t.Fatalf("expected 6 columns, got %d", len(stmt.Columns))
	}

	id := stmt.Columns[0]
	if !id.PrimaryKey || id.Type != "INTEGER" {
		t.Errorf("id = %+v", id)
	}
	if !stmt.Columns[1].NotNull {
		t.Errorf("first_name = %+v", stmt.Columns[1])
	}
	if stmt.Columns[2].Default != "''" {
		t.Errorf("last_name default = %q", stmt.Columns[2].Default)
	}
	if stmt.Columns[3].NotNull {
		t.Errorf("age should be nullable: %+v", stmt.Columns[3])
	}
	if stmt.Columns[5].Default != "-1.5" {
		t.Errorf("score default = %q", stmt.Columns[5].Default)
	}

	if len(stmt.ForeignKeys) != 1 {
		t.Fatalf("expected 1 foreign key, got %d", len(stmt.ForeignKeys))
	}
	fk := stmt.ForeignKeys[0]
	if fk.RefTable != "address" || fk.OnDelete != "CASCADE" || fk.OnUpdate != "SET NULL" {
		t.Errorf("fk = %+v", fk)
	}
	if len(fk.Columns) != 1 || fk.Columns[0] != "address_id" {
		t.Errorf("fk.Columns = %v", fk.Columns)
	}
}

func TestParseCreate_TableLevelConstraints(t *testing.T) {
	sql := `CREATE TABLE order_item (
    order_id INTEGER,
    line_no INTEGER,
    product_id INTEGER NOT NULL,
    PRIMARY KEY (order_id, line_no),
    FOREIGN KEY (product_id) REFERENCES product (id) ON DELETE RESTRICT
)`

	stmt, err := ParseCreate("order_item.sql", sql)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stmt.PrimaryKey) != 2 {
		t.Fatalf("primary key = %v", stmt.PrimaryKey)
	}
	if !stmt.Columns[0].PrimaryKey || !stmt.Columns[1].PrimaryKey {
		t.Error("composite key columns not flagged")
	}
	if len(stmt.ForeignKeys) != 1 || stmt.ForeignKeys[0].OnDelete != "RESTRICT" {
		t.Errorf("fks = %+v", stmt.ForeignKeys)
	}
}

func TestParseCreate_View(t *testing.T) {
	sql := `CREATE VIEW adult_person AS SELECT id, first_name FROM person WHERE age >= 18;`

	stmt, err := ParseCreate("views.sql", sql)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stmt.View || stmt.Name != "adult_person" {
		t.Errorf("stmt = %+v", stmt)
	}
	want := "SELECT id, first_name FROM person WHERE age >= 18"
	if stmt.SelectSQL != want {
		t.Errorf("view body = %q, want %q", stmt.SelectSQL, want)
	}
}

func TestSplitStatements(t *testing.T) {
	src := `-- @@{ cascadeNotify={delete:[address]} }
CREATE TABLE person (id INTEGER PRIMARY KEY);

CREATE TABLE address (
    id INTEGER PRIMARY KEY,
    note TEXT DEFAULT 'a;b'
);
-- trailing comment only
`

	segs := SplitStatements(src)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].StartLine != 1 {
		t.Errorf("segs[0].StartLine = %d, want 1", segs[0].StartLine)
	}
	// The second segment begins immediately after the first semicolon,
	// so its first character is still on line 2.
	if segs[1].StartLine != 2 {
		t.Errorf("segs[1].StartLine = %d, want 2", segs[1].StartLine)
	}
}

func TestTokenize_QuotedIdentifiersAndParams(t *testing.T) {
	tokens := Tokenize(`SELECT "first name", 'it''s' FROM t WHERE x = :val AND y = ?`)

	var idents, strs, params int
	for _, tok := range tokens {
		switch tok.Type {
		case IDENT:
			idents++
		case STRING:
			strs++
		case PARAM:
			params++
		}
	}
	if strs != 1 {
		t.Errorf("strings = %d, want 1", strs)
	}
	if params != 2 {
		t.Errorf("params = %d, want 2", params)
	}
	if idents == 0 {
		t.Error("expected identifiers")
	}
}
