package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"hdb-insights/internal/config"
	"hdb-insights/internal/datagov"
	"hdb-insights/internal/dataset"
	apperrors "hdb-insights/internal/errors"
)

const (
	// Sample size control bounds: [MinSampleSize, min(rowCount, MaxRecords)]
	// in steps of SampleStep, defaulting to min(DefaultSampleSize, bound).
	MinSampleSize     = 100
	DefaultSampleSize = 2000
	SampleStep        = 100

	defaultTownCount = 5
)

// Query holds the user-chosen filter parameters for one dashboard view.
// An empty Towns slice means no town restriction. MaxYear == 0 disables
// the year filter.
type Query struct {
	SampleSize int
	Towns      []string
	MinYear    int
	MaxYear    int
}

// Metrics are the three scalar summaries over a view dataset.
type Metrics struct {
	MeanResalePrice float64 `json:"mean_resale_price"`
	MeanFloorArea   float64 `json:"mean_floor_area_sqm"`
	Transactions    int     `json:"transactions"`
}

// Pivot is the town x flat-type mean resale price table. Cells holds only
// combinations present in the view dataset; an absent cell is "no bar",
// never a zero-height bar.
type Pivot struct {
	Towns     []string                      `json:"towns"`
	FlatTypes []string                      `json:"flat_types"`
	Cells     map[string]map[string]float64 `json:"cells"`
}

// ViewResult is the output of one pipeline run. Pivot is nil when the view
// dataset has no groupable town/flat-type combination; metrics and rows are
// still valid in that case.
type ViewResult struct {
	Rows    *dataset.Dataset
	Metrics Metrics
	Pivot   *Pivot
}

// Insights owns the cleaned dataset and runs the filter/aggregate pipeline.
// The pipeline is stateless: every View call recomputes from the cleaned
// dataset in full.
type Insights struct {
	mu       sync.RWMutex
	cleaned  *dataset.Dataset
	loadedAt time.Time

	client *datagov.Client
	params datagov.Params
	logger *slog.Logger
}

func NewInsights(client *datagov.Client, cfg config.DataGovConfig, logger *slog.Logger) *Insights {
	return &Insights{
		client: client,
		params: datagov.Params{
			ResourceID: cfg.ResourceID,
			Limit:      cfg.MaxRecords,
			Sort:       cfg.SortOrder,
		},
		logger: logger,
	}
}

// Load fetches (or reuses the memoized fetch of) the raw dataset and stores
// its cleaned form. A fetch that succeeds but cleans down to zero rows is an
// empty-dataset failure.
func (s *Insights) Load(ctx context.Context) error {
	raw, err := s.client.Load(ctx, s.params)
	if err != nil {
		return err
	}

	cleaned := dataset.Clean(raw)

	s.mu.Lock()
	s.cleaned = cleaned
	s.loadedAt = time.Now()
	s.mu.Unlock()

	if cleaned.Len() == 0 {
		return apperrors.EmptyDataset("no usable records in dataset")
	}

	s.logger.Info("dataset cleaned",
		"raw_rows", raw.Len(),
		"clean_rows", cleaned.Len(),
		"dropped", raw.Len()-cleaned.Len(),
	)
	return nil
}

// Ensure loads the dataset if no load has happened yet. Repeated calls after
// a failed load re-surface the memoized failure without another fetch.
func (s *Insights) Ensure(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.cleaned != nil && s.cleaned.Len() > 0
	s.mu.RUnlock()

	if loaded {
		return nil
	}
	return s.Load(ctx)
}

// SetData replaces the held dataset after cleaning it. Test seam.
func (s *Insights) SetData(ds *dataset.Dataset) {
	cleaned := dataset.Clean(ds)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned = cleaned
	s.loadedAt = time.Now()
}

// View runs the pipeline: sample, town filter, year filter, then metrics and
// pivot. An empty view dataset is an EMPTY_DATASET failure with no metrics
// or pivot computed.
func (s *Insights) View(q Query) (*ViewResult, error) {
	s.mu.RLock()
	cleaned := s.cleaned
	s.mu.RUnlock()

	if cleaned.Len() == 0 {
		return nil, apperrors.EmptyDataset("no records loaded")
	}

	rows := cleaned.Rows
	if q.SampleSize > 0 {
		rows = cleaned.Head(q.SampleSize).Rows
	}

	if len(q.Towns) > 0 {
		selected := make(map[string]bool, len(q.Towns))
		for _, town := range q.Towns {
			selected[town] = true
		}
		rows = filterRows(rows, func(row dataset.Row) bool {
			town, ok := dataset.String(row, dataset.ColTown)
			return ok && selected[town]
		})
	}

	// The year filter is informational only when the whole cleaned dataset
	// sits inside a single year.
	if minYear, maxYear, ok := yearBounds(cleaned); ok && minYear < maxYear && q.MaxYear != 0 {
		rows = filterRows(rows, func(row dataset.Row) bool {
			year, ok := dataset.Int(row, dataset.ColYear)
			return ok && year >= q.MinYear && year <= q.MaxYear
		})
	}

	if len(rows) == 0 {
		return nil, apperrors.EmptyDataset("no data found for these filters")
	}

	view := &dataset.Dataset{Columns: cleaned.Columns, Rows: rows}

	return &ViewResult{
		Rows:    view,
		Metrics: computeMetrics(rows),
		Pivot:   computePivot(rows),
	}, nil
}

// Transactions returns the view dataset sorted by the requested column,
// resale price descending by default, capped at limit rows.
func (s *Insights) Transactions(q Query, orderBy string, descending bool, limit int) (*dataset.Dataset, error) {
	vr, err := s.View(q)
	if err != nil {
		return nil, err
	}

	if orderBy == "" {
		orderBy = dataset.ColResalePrice
	}
	if !vr.Rows.HasColumn(orderBy) {
		return nil, apperrors.BadRequest(fmt.Sprintf("unknown column %q", orderBy))
	}

	rows := append([]dataset.Row(nil), vr.Rows.Rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		if descending {
			return compareCells(rows[i][orderBy], rows[j][orderBy]) > 0
		}
		return compareCells(rows[i][orderBy], rows[j][orderBy]) < 0
	})

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	return &dataset.Dataset{Columns: vr.Rows.Columns, Rows: rows}, nil
}

// RowCount is the cleaned dataset size.
func (s *Insights) RowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cleaned.Len()
}

// Towns returns the sorted distinct towns of the cleaned dataset.
func (s *Insights) Towns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	towns := make([]string, 0)
	if s.cleaned != nil {
		for _, row := range s.cleaned.Rows {
			if town, ok := dataset.String(row, dataset.ColTown); ok && !seen[town] {
				seen[town] = true
				towns = append(towns, town)
			}
		}
	}
	slices.Sort(towns)
	return towns
}

// DefaultTowns is the dashboard's initial town selection: the first towns in
// alphabetical order.
func (s *Insights) DefaultTowns() []string {
	towns := s.Towns()
	if len(towns) > defaultTownCount {
		towns = towns[:defaultTownCount]
	}
	return towns
}

// YearBounds reports the min and max derived year of the cleaned dataset.
// ok is false when no row carries a year.
func (s *Insights) YearBounds() (minYear, maxYear int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return yearBounds(s.cleaned)
}

// HasYearRange reports whether the year control applies: the cleaned dataset
// must span more than one year.
func (s *Insights) HasYearRange() bool {
	minYear, maxYear, ok := s.YearBounds()
	return ok && minYear < maxYear
}

// MaxSample is the upper bound of the sample size control.
func (s *Insights) MaxSample() int {
	bound := s.RowCount()
	if bound > s.params.Limit {
		bound = s.params.Limit
	}
	return bound
}

// ClampSample forces n into the sample control's bounds.
func (s *Insights) ClampSample(n int) int {
	upper := s.MaxSample()
	if n > upper {
		n = upper
	}
	if n < MinSampleSize {
		n = MinSampleSize
	}
	if n > upper {
		// Tiny datasets: the lower bound cannot exceed what exists.
		n = upper
	}
	return n
}

// DefaultSample is the initial sample size.
func (s *Insights) DefaultSample() int {
	return s.ClampSample(DefaultSampleSize)
}

// Stats exposes monitoring counters.
func (s *Insights) Stats() map[string]any {
	s.mu.RLock()
	cleaned := s.cleaned
	loadedAt := s.loadedAt
	s.mu.RUnlock()

	minYear, maxYear, hasYears := yearBounds(cleaned)

	stats := map[string]any{
		"record_count":    cleaned.Len(),
		"loaded_at":       loadedAt,
		"towns":           len(s.Towns()),
		"cached_outcomes": 0,
	}
	if s.client != nil {
		stats["cached_outcomes"] = s.client.CachedOutcomes()
	}
	if hasYears {
		stats["year_min"] = minYear
		stats["year_max"] = maxYear
	}
	return stats
}

func filterRows(rows []dataset.Row, keep func(dataset.Row) bool) []dataset.Row {
	out := make([]dataset.Row, 0, len(rows))
	for _, row := range rows {
		if keep(row) {
			out = append(out, row)
		}
	}
	return out
}

func yearBounds(ds *dataset.Dataset) (minYear, maxYear int, ok bool) {
	if !ds.HasColumn(dataset.ColYear) {
		return 0, 0, false
	}
	for _, row := range ds.Rows {
		year, present := dataset.Int(row, dataset.ColYear)
		if !present {
			continue
		}
		if !ok || year < minYear {
			minYear = year
		}
		if !ok || year > maxYear {
			maxYear = year
		}
		ok = true
	}
	return minYear, maxYear, ok
}

func computeMetrics(rows []dataset.Row) Metrics {
	var priceSum, areaSum float64
	var areaCount int

	for _, row := range rows {
		// Every cleaned row has a price; area may still be missing.
		if price, ok := dataset.Float(row, dataset.ColResalePrice); ok {
			priceSum += price
		}
		if area, ok := dataset.Float(row, dataset.ColFloorArea); ok {
			areaSum += area
			areaCount++
		}
	}

	m := Metrics{
		MeanResalePrice: priceSum / float64(len(rows)),
		Transactions:    len(rows),
	}
	if areaCount > 0 {
		m.MeanFloorArea = areaSum / float64(areaCount)
	}
	return m
}

func computePivot(rows []dataset.Row) *Pivot {
	type group struct {
		sum   float64
		count int
	}
	groups := make(map[string]map[string]*group)
	flatTypes := make(map[string]bool)

	for _, row := range rows {
		town, townOK := dataset.String(row, dataset.ColTown)
		flatType, typeOK := dataset.String(row, dataset.ColFlatType)
		price, priceOK := dataset.Float(row, dataset.ColResalePrice)
		if !townOK || !typeOK || !priceOK || town == "" || flatType == "" {
			continue
		}

		if groups[town] == nil {
			groups[town] = make(map[string]*group)
		}
		if groups[town][flatType] == nil {
			groups[town][flatType] = &group{}
		}
		groups[town][flatType].sum += price
		groups[town][flatType].count++
		flatTypes[flatType] = true
	}

	if len(groups) == 0 {
		return nil
	}

	pivot := &Pivot{
		Towns:     make([]string, 0, len(groups)),
		FlatTypes: make([]string, 0, len(flatTypes)),
		Cells:     make(map[string]map[string]float64, len(groups)),
	}
	for town, byType := range groups {
		pivot.Towns = append(pivot.Towns, town)
		cells := make(map[string]float64, len(byType))
		for flatType, g := range byType {
			cells[flatType] = g.sum / float64(g.count)
		}
		pivot.Cells[town] = cells
	}
	for flatType := range flatTypes {
		pivot.FlatTypes = append(pivot.FlatTypes, flatType)
	}
	slices.Sort(pivot.Towns)
	slices.Sort(pivot.FlatTypes)

	return pivot
}

func compareCells(a, b any) int {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	switch {
	case aNum && bNum:
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case aNum:
		return 1
	case bNum:
		return -1
	}

	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
		return 1
	}
	if _, ok := b.(time.Time); ok {
		return -1
	}

	return strings.Compare(dataset.FormatCell(a), dataset.FormatCell(b))
}

func toFloat(v any) (float64, bool) {
	switch c := v.(type) {
	case float64:
		return c, true
	case int:
		return float64(c), true
	default:
		return 0, false
	}
}
