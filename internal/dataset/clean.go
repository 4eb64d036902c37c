package dataset

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

var numericColumns = []string{ColResalePrice, ColFloorArea}

var monthFormats = []string{"2006-01", "2006-01-02", time.RFC3339}

// Clean normalizes a raw dataset: resale_price and floor_area_sqm cells are
// coerced to float64 (unparsable cells become missing), month cells are
// parsed to time.Time with a derived year column, and rows with a missing
// resale_price are dropped. Month handling is skipped when the dataset has
// no month column. Cleaning an already-clean dataset is a no-op; a nil
// dataset passes through.
func Clean(d *Dataset) *Dataset {
	if d == nil {
		return nil
	}

	out := &Dataset{
		Columns: append([]string(nil), d.Columns...),
		Rows:    make([]Row, 0, len(d.Rows)),
	}

	hasMonth := d.HasColumn(ColMonth)
	if hasMonth && !out.HasColumn(ColYear) {
		out.Columns = append(out.Columns, ColYear)
	}

	for _, row := range d.Rows {
		clean := make(Row, len(row)+1)
		for k, v := range row {
			clean[k] = v
		}

		for _, col := range numericColumns {
			if _, present := clean[col]; present {
				if f, ok := coerceFloat(clean[col]); ok {
					clean[col] = f
				} else {
					clean[col] = nil
				}
			}
		}

		if hasMonth {
			if ts, ok := coerceMonth(clean[ColMonth]); ok {
				clean[ColMonth] = ts
				clean[ColYear] = ts.Year()
			} else {
				clean[ColMonth] = nil
				delete(clean, ColYear)
			}
		}

		// The only row-dropping step: a missing price makes the row useless
		// for every downstream aggregate.
		if clean[ColResalePrice] == nil {
			continue
		}

		out.Rows = append(out.Rows, clean)
	}

	return out
}

func coerceFloat(v any) (float64, bool) {
	var f float64
	switch c := v.(type) {
	case float64:
		f = c
	case int:
		f = float64(c)
	case json.Number:
		parsed, err := c.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func coerceMonth(v any) (time.Time, bool) {
	switch c := v.(type) {
	case time.Time:
		return c, true
	case string:
		s := strings.TrimSpace(c)
		for _, layout := range monthFormats {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
