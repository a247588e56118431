package runtime

import (
	"reflect"
	"testing"

	"github.com/reflowdb/reflow/internal/query"
	"github.com/reflowdb/reflow/internal/schema"
)

func flatNode() *query.ResultNode {
	return &query.ResultNode{
		Kind: query.KindFlat,
		Columns: []query.ResultColumn{
			{Index: 0, Name: "id", PropertyName: "id", PropertyType: schema.TypeInteger, NotNull: true},
			{Index: 1, Name: "name", PropertyName: "name", PropertyType: schema.TypeText, NotNull: true},
		},
	}
}

func TestShapeRows_Flat(t *testing.T) {
	rows := shapeRows(flatNode(), [][]any{
		{int64(1), []byte("ada")},
		{int64(2), "bob"},
	})
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0]["name"] != "ada" {
		t.Errorf("byte slice not converted: %v", rows[0]["name"])
	}
	if rows[1]["id"] != int64(2) {
		t.Errorf("id = %v", rows[1]["id"])
	}
}

func TestShapeRows_PerRowNilWhenAbsent(t *testing.T) {
	node := flatNode()
	node.Children = []*query.ResultNode{{
		Kind: query.KindPerRow,
		Name: "address",
		Columns: []query.ResultColumn{
			{Index: 2, Name: "city", PropertyName: "city", PropertyType: schema.TypeText},
		},
	}}
	rows := shapeRows(node, [][]any{
		{int64(1), "ada", "berlin"},
		{int64(2), "bob", nil},
	})
	if rows[0]["address"].(Row)["city"] != "berlin" {
		t.Errorf("address = %v", rows[0]["address"])
	}
	if rows[1]["address"] != nil {
		t.Errorf("unmatched join should be nil, got %v", rows[1]["address"])
	}
}

func TestShapeRows_EntityChildKeepsAllNullObject(t *testing.T) {
	node := flatNode()
	node.Children = []*query.ResultNode{{
		Kind: query.KindEntity,
		Name: "person",
		Columns: []query.ResultColumn{
			{Index: 2, Name: "email", PropertyName: "email", PropertyType: schema.TypeText},
			{Index: 3, Name: "phone", PropertyName: "phone", PropertyType: schema.TypeText},
		},
	}}
	rows := shapeRows(node, [][]any{
		{int64(1), "ada", nil, nil},
	})
	entity, ok := rows[0]["person"].(Row)
	if !ok {
		t.Fatalf("entity must stay an object, got %v", rows[0]["person"])
	}
	if entity["email"] != nil || entity["phone"] != nil {
		t.Errorf("entity = %v", entity)
	}
}

func TestShapeRows_CollectionGroups(t *testing.T) {
	node := flatNode()
	node.Children = []*query.ResultNode{{
		Kind:     query.KindCollection,
		Name:     "tags",
		GroupKey: "tag_id",
		Columns: []query.ResultColumn{
			{Index: 2, Name: "tag_id", PropertyName: "tagId", PropertyType: schema.TypeInteger},
			{Index: 3, Name: "label", PropertyName: "label", PropertyType: schema.TypeText},
		},
	}}
	rows := shapeRows(node, [][]any{
		{int64(1), "ada", int64(10), "a"},
		{int64(1), "ada", int64(11), "b"},
		{int64(1), "ada", int64(10), "a"}, // duplicate join row
		{int64(2), "bob", nil, nil},
	})
	if len(rows) != 2 {
		t.Fatalf("got %d parents, want 2", len(rows))
	}
	tags := rows[0]["tags"].([]Row)
	if len(tags) != 2 {
		t.Fatalf("got %d tags, want 2", len(tags))
	}
	if tags[1]["label"] != "b" {
		t.Errorf("tags[1] = %v", tags[1])
	}
	if got := rows[1]["tags"].([]Row); len(got) != 0 {
		t.Errorf("bob should have no tags, got %v", got)
	}
}

func TestConvertValue(t *testing.T) {
	boolCol := query.ResultColumn{PropertyType: schema.TypeBool}
	if v := convertValue(boolCol, int64(1)); v != true {
		t.Errorf("bool from int64(1) = %v", v)
	}
	if v := convertValue(boolCol, int64(0)); v != false {
		t.Errorf("bool from int64(0) = %v", v)
	}

	defCol := query.ResultColumn{PropertyType: schema.TypeInteger, Default: "42"}
	if v := convertValue(defCol, nil); v != int64(42) {
		t.Errorf("default = %v (%v)", v, reflect.TypeOf(v))
	}

	blobCol := query.ResultColumn{PropertyType: schema.TypeBlob}
	raw := []byte{0x1, 0x2}
	if v := convertValue(blobCol, raw); !reflect.DeepEqual(v, raw) {
		t.Errorf("blob should pass through, got %v", v)
	}
}
