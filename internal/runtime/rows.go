package runtime

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/reflowdb/reflow/internal/query"
	"github.com/reflowdb/reflow/internal/schema"
)

// Row is one shaped result row: property names mapped to converted
// values, with nested objects and collections where the query's shape
// declares them.
type Row map[string]any

// shapeRows assembles raw engine rows into the query's result shape.
// Raw rows arrive in statement order; for shapes with collection
// children, rows sharing a root identity merge into one Row whose
// collections accumulate distinct child rows.
func shapeRows(node *query.ResultNode, raw [][]any) []Row {
	if node == nil {
		return nil
	}
	if len(node.Children) == 0 {
		rows := make([]Row, 0, len(raw))
		for _, r := range raw {
			rows = append(rows, shapeLeaf(node, r))
		}
		return rows
	}

	type parent struct {
		row  Row
		seen map[string]map[string]bool // collection name -> group keys taken
	}
	var order []string
	parents := make(map[string]*parent)

	for _, r := range raw {
		key := rowIdentity(node.Columns, r)
		p, ok := parents[key]
		if !ok {
			p = &parent{row: shapeLeaf(node, r), seen: make(map[string]map[string]bool)}
			for _, child := range node.Children {
				if child.Kind == query.KindCollection {
					p.row[child.Name] = []Row{}
					p.seen[child.Name] = make(map[string]bool)
				} else {
					p.row[child.Name] = childRow(child, r)
				}
			}
			parents[key] = p
			order = append(order, key)
		}

		for _, child := range node.Children {
			if child.Kind != query.KindCollection {
				if p.row[child.Name] == nil {
					if cr := childRow(child, r); cr != nil {
						p.row[child.Name] = cr
					}
				}
				continue
			}
			cr := childRow(child, r)
			if cr == nil {
				continue
			}
			keyCol := child.ColumnByName(child.GroupKey)
			if keyCol == nil {
				continue
			}
			gv := valueAt(r, keyCol.Index)
			if gv == nil {
				// An unmatched outer join; there is no child row here.
				continue
			}
			gk := fmt.Sprintf("%v", gv)
			if p.seen[child.Name][gk] {
				continue
			}
			p.seen[child.Name][gk] = true
			p.row[child.Name] = append(p.row[child.Name].([]Row), cr)
		}
	}

	rows := make([]Row, 0, len(order))
	for _, key := range order {
		rows = append(rows, parents[key].row)
	}
	return rows
}

// childRow shapes a nested node's columns from one raw row. For
// optional joined children an all-NULL row means the join didn't match:
// the property is nil rather than an object full of nulls. An entity
// child wraps the row's own source table and is always exactly one
// object, NULLs and all.
func childRow(child *query.ResultNode, r []any) Row {
	if child.Kind != query.KindEntity && !child.NotNull {
		allNil := true
		for _, col := range child.Columns {
			if valueAt(r, col.Index) != nil {
				allNil = false
				break
			}
		}
		if allNil {
			return nil
		}
	}
	row := make(Row, len(child.Columns))
	for _, col := range child.Columns {
		row[col.PropertyName] = convertValue(col, valueAt(r, col.Index))
	}
	return row
}

func shapeLeaf(node *query.ResultNode, r []any) Row {
	row := make(Row, len(node.Columns))
	for _, col := range node.Columns {
		row[col.PropertyName] = convertValue(col, valueAt(r, col.Index))
	}
	return row
}

// rowIdentity fingerprints a row's root column values so repeated rows
// produced by collection joins collapse onto one parent. Identity is
// the full root tuple: for a projection that includes the query's
// primary key this is exactly primary-key identity, and a projection
// without the key has no narrower identity to merge on.
func rowIdentity(cols []query.ResultColumn, r []any) string {
	var b strings.Builder
	for i, col := range cols {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		fmt.Fprintf(&b, "%v", valueAt(r, col.Index))
	}
	return b.String()
}

func valueAt(r []any, idx int) any {
	if idx < 0 || idx >= len(r) {
		return nil
	}
	return r[idx]
}

// convertValue normalizes engine values to property values: byte slices
// become strings, boolean-typed integers become bools, and declared
// defaults substitute for NULL.
func convertValue(col query.ResultColumn, v any) any {
	if v == nil {
		if col.Default != "" {
			return defaultValue(col)
		}
		return nil
	}
	switch col.PropertyType {
	case schema.TypeBool:
		switch n := v.(type) {
		case int64:
			return n != 0
		case bool:
			return n
		}
	}
	if b, ok := v.([]byte); ok && col.PropertyType != schema.TypeBlob {
		return string(b)
	}
	return v
}

func defaultValue(col query.ResultColumn) any {
	raw := strings.Trim(col.Default, "'")
	switch col.PropertyType {
	case schema.TypeInteger:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case schema.TypeReal:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case schema.TypeBool:
		return raw == "true" || raw == "1"
	}
	return raw
}
