package dataset

import (
	"encoding/json"
	"strconv"
	"time"
)

// Well-known columns of the resale flat price dataset. Anything else the
// API sends is carried through untouched.
const (
	ColTown        = "town"
	ColFlatType    = "flat_type"
	ColMonth       = "month"
	ColYear        = "year"
	ColFloorArea   = "floor_area_sqm"
	ColResalePrice = "resale_price"
)

// Row is one record. Cell values are whatever the API sent (string, float64,
// nil) until Clean retypes the columns it knows about. A nil cell is a
// missing value.
type Row map[string]any

// Dataset is an ordered sequence of rows sharing a column set. Columns keeps
// first-seen order so tabular rendering matches the upstream layout.
type Dataset struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

func (d *Dataset) HasColumn(name string) bool {
	if d == nil {
		return false
	}
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Head returns a dataset holding the first n rows, sharing backing storage.
func (d *Dataset) Head(n int) *Dataset {
	if d == nil {
		return nil
	}
	if n > len(d.Rows) {
		n = len(d.Rows)
	}
	if n < 0 {
		n = 0
	}
	return &Dataset{Columns: d.Columns, Rows: d.Rows[:n]}
}

// Float reads a numeric cell. Missing, nil, or non-numeric cells report
// ok=false.
func Float(row Row, col string) (float64, bool) {
	switch v := row[col].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Int reads an integer cell, accepting float64 cells with integral values.
func Int(row Row, col string) (int, bool) {
	switch v := row[col].(type) {
	case int:
		return v, true
	case float64:
		return int(v), float64(int(v)) == v
	default:
		return 0, false
	}
}

// String reads a string cell; missing or non-string cells report ok=false.
func String(row Row, col string) (string, bool) {
	v, ok := row[col].(string)
	return v, ok
}

// MarshalJSON renders time cells in yyyy-mm form so the JSON surface agrees
// with tabular display.
func (r Row) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if t, ok := v.(time.Time); ok {
			out[k] = t.Format("2006-01")
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}

// FormatCell renders any cell value for tabular display.
func FormatCell(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case int:
		return strconv.Itoa(c)
	case json.Number:
		return c.String()
	case time.Time:
		return c.Format("2006-01")
	default:
		return ""
	}
}
