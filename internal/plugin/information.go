package plugin

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Information table columns.
const (
	ColumnType        = "Type"
	ColumnID          = "ID"
	ColumnName        = "Name"
	ColumnDescription = "Description"
	ColumnLibraries   = "Libraries"
	ColumnGroup       = "Group"
	ColumnClassName   = "ClassName"
	ColumnCategory    = "Category"
)

var informationColumns = []string{
	ColumnType,
	ColumnID,
	ColumnName,
	ColumnDescription,
	ColumnLibraries,
	ColumnGroup,
	ColumnClassName,
	ColumnCategory,
}

// Table is a read-only tabular summary of registered plugins.
type Table struct {
	columns []string
	rows    [][]string
}

// Columns returns the column names.
func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns a copy of row i.
func (t *Table) Row(i int) []string {
	return slices.Clone(t.rows[i])
}

// Rows returns a copy of all rows.
func (t *Table) Rows() [][]string {
	rows := make([][]string, len(t.rows))
	for i, row := range t.rows {
		rows[i] = slices.Clone(row)
	}
	return rows
}

// Value returns the cell of row i in the named column, or "" for an
// unknown column.
func (t *Table) Value(i int, column string) string {
	c := slices.Index(t.columns, column)
	if c < 0 {
		return ""
	}
	return t.rows[i][c]
}

// Records returns the rows keyed by column name.
func (t *Table) Records() []map[string]string {
	records := make([]map[string]string, 0, len(t.rows))
	for _, row := range t.rows {
		record := make(map[string]string, len(t.columns))
		for c, name := range t.columns {
			record[name] = row[c]
		}
		records = append(records, record)
	}
	return records
}

// Information returns one row per descriptor of t in registration order.
func (r *Registry) Information(t Type) *Table {
	info := r.TypeInfo(t)
	table := &Table{columns: slices.Clone(informationColumns)}
	for _, d := range r.Plugins(t) {
		table.rows = append(table.rows, informationRow(info, d))
	}
	return table
}

func informationRow(info TypeInfo, d Descriptor) []string {
	var description, category string
	if ds, ok := d.(Describer); ok {
		description = ds.Description()
		category = ds.Category()
	}

	classMap := d.ClassMap()
	capabilities := make([]Capability, 0, len(classMap))
	for c := range classMap {
		capabilities = append(capabilities, c)
	}
	slices.Sort(capabilities)
	classes := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		classes = append(classes, classMap[c])
	}

	return []string{
		info.Name,
		strings.Join(d.IDs(), ", "),
		d.Name(),
		description,
		strings.Join(librariesOf(d), ", "),
		d.Group(),
		strings.Join(classes, ", "),
		category,
	}
}

// displayName turns "media-codec" into "Media Codec".
func displayName(t Type) string {
	words := strings.FieldsFunc(string(t), func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	})
	return cases.Title(language.English).String(strings.Join(words, " "))
}
