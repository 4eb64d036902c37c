package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"hdb-insights/internal/config"
	"hdb-insights/internal/dataset"
	"hdb-insights/internal/services"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.DataGovConfig {
	return config.DataGovConfig{
		ResourceID: "test-resource",
		MaxRecords: 10000,
		SortOrder:  "month desc",
	}
}

func createTestInsights() *services.Insights {
	s := services.NewInsights(nil, testConfig(), testLogger())
	s.SetData(&dataset.Dataset{
		Columns: []string{"town", "flat_type", "month", "resale_price", "floor_area_sqm", "block"},
		Rows: []dataset.Row{
			{"town": "BEDOK", "flat_type": "3 ROOM", "month": "2023-05", "resale_price": "450000", "floor_area_sqm": "65", "block": "123"},
			{"town": "BEDOK", "flat_type": "4 ROOM", "month": "2023-06", "resale_price": "520000", "floor_area_sqm": "90", "block": "456"},
			{"town": "TAMPINES", "flat_type": "3 ROOM", "month": "2022-01", "resale_price": "380000", "floor_area_sqm": "68", "block": "789"},
			{"town": "YISHUN", "flat_type": "5 ROOM", "month": "2021-08", "resale_price": "610000", "floor_area_sqm": "120", "block": "101"},
		},
	})
	return s
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	return response
}

func TestAPIHandlers_HandleFilters(t *testing.T) {
	h := NewAPIHandlers(createTestInsights(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/filters", nil)
	w := httptest.NewRecorder()

	h.HandleFilters(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("expected cache-control 'public, max-age=300', got %q", cc)
	}

	response := decodeResponse(t, w)
	if success, ok := response["success"].(bool); !ok || !success {
		t.Error("expected success=true in response")
	}

	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatal("expected data object in response")
	}
	towns, ok := data["towns"].([]any)
	if !ok || len(towns) != 3 {
		t.Errorf("expected 3 towns, got %v", data["towns"])
	}
	if data["has_year_range"] != true {
		t.Error("dataset spans 2021-2023; year range should be offered")
	}
	if data["year_min"] != float64(2021) || data["year_max"] != float64(2023) {
		t.Errorf("expected year bounds 2021/2023, got %v/%v", data["year_min"], data["year_max"])
	}
}

func TestAPIHandlers_HandleSummary(t *testing.T) {
	h := NewAPIHandlers(createTestInsights(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/summary?towns=BEDOK&year_min=2023&year_max=2023", nil)
	w := httptest.NewRecorder()

	h.HandleSummary(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	response := decodeResponse(t, w)
	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatal("expected data object in response")
	}
	if data["transactions"] != float64(2) {
		t.Errorf("expected 2 transactions, got %v", data["transactions"])
	}
	if data["mean_resale_price"] != float64(485000) {
		t.Errorf("expected mean price 485000, got %v", data["mean_resale_price"])
	}
}

func TestAPIHandlers_HandleSummary_EmptyDataset(t *testing.T) {
	h := NewAPIHandlers(createTestInsights(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/summary?towns=PUNGGOL", nil)
	w := httptest.NewRecorder()

	h.HandleSummary(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d for empty view, got %d", http.StatusNotFound, w.Code)
	}

	response := decodeResponse(t, w)
	if success, ok := response["success"].(bool); !ok || success {
		t.Error("expected success=false in response")
	}
	errObj, ok := response["error"].(map[string]any)
	if !ok || errObj["code"] != "EMPTY_DATASET" {
		t.Errorf("expected EMPTY_DATASET error, got %v", response["error"])
	}
}

func TestAPIHandlers_HandleSummary_BadParams(t *testing.T) {
	h := NewAPIHandlers(createTestInsights(), testLogger())

	tests := []struct {
		name string
		path string
	}{
		{"non-integer sample", "/api/summary?sample=lots"},
		{"non-integer year", "/api/summary?year_min=then"},
		{"inverted year range", "/api/summary?year_min=2023&year_max=2021"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			h.HandleSummary(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestAPIHandlers_HandlePivot(t *testing.T) {
	h := NewAPIHandlers(createTestInsights(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/pivot", nil)
	w := httptest.NewRecorder()

	h.HandlePivot(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	response := decodeResponse(t, w)
	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatal("expected pivot object in response")
	}
	cells, ok := data["cells"].(map[string]any)
	if !ok {
		t.Fatal("expected cells in pivot")
	}
	bedok, ok := cells["BEDOK"].(map[string]any)
	if !ok {
		t.Fatal("expected BEDOK row in pivot cells")
	}
	if bedok["3 ROOM"] != float64(450000) {
		t.Errorf("expected BEDOK/3 ROOM = 450000, got %v", bedok["3 ROOM"])
	}
	if _, present := bedok["5 ROOM"]; present {
		t.Error("absent combination should not appear as a cell")
	}
}

func TestAPIHandlers_HandlePivot_InsufficientData(t *testing.T) {
	s := services.NewInsights(nil, testConfig(), testLogger())
	s.SetData(&dataset.Dataset{
		Columns: []string{"town", "month", "resale_price"},
		Rows: []dataset.Row{
			{"town": "BEDOK", "month": "2023-01", "resale_price": "400000"},
		},
	})
	h := NewAPIHandlers(s, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/pivot", nil)
	w := httptest.NewRecorder()

	h.HandlePivot(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, w.Code)
	}

	response := decodeResponse(t, w)
	errObj, ok := response["error"].(map[string]any)
	if !ok || errObj["code"] != "INSUFFICIENT_CHART_DATA" {
		t.Errorf("expected INSUFFICIENT_CHART_DATA error, got %v", response["error"])
	}
}

func TestAPIHandlers_HandleTransactions(t *testing.T) {
	h := NewAPIHandlers(createTestInsights(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	w := httptest.NewRecorder()

	h.HandleTransactions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	response := decodeResponse(t, w)
	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatal("expected dataset object in response")
	}
	rows, ok := data["rows"].([]any)
	if !ok || len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %v", data["rows"])
	}

	// Default ordering is resale_price descending.
	first, _ := rows[0].(map[string]any)
	if first["resale_price"] != float64(610000) {
		t.Errorf("expected most expensive row first, got %v", first["resale_price"])
	}
	if first["month"] != "2021-08" {
		t.Errorf("expected month serialized as yyyy-mm, got %v", first["month"])
	}

	columns, ok := data["columns"].([]any)
	if !ok || len(columns) == 0 {
		t.Fatal("expected columns in response")
	}
	if columns[0] != "town" {
		t.Errorf("column order should be first-seen, got %v", columns)
	}
}

func TestAPIHandlers_HandleTransactions_BadDir(t *testing.T) {
	h := NewAPIHandlers(createTestInsights(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/transactions?dir=sideways", nil)
	w := httptest.NewRecorder()

	h.HandleTransactions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestAPIHandlers_HandleHealth(t *testing.T) {
	h := NewAPIHandlers(createTestInsights(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.HandleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type 'application/json', got %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "" {
		t.Errorf("health endpoint should not set cache-control, got %q", cc)
	}

	response := decodeResponse(t, w)
	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatal("expected health data in response")
	}
	if data["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", data["status"])
	}
}

func TestAPIHandlers_HandleStats(t *testing.T) {
	h := NewAPIHandlers(createTestInsights(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	w := httptest.NewRecorder()

	h.HandleStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	response := decodeResponse(t, w)
	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatal("expected stats object in response")
	}
	if data["record_count"] != float64(4) {
		t.Errorf("expected record_count 4, got %v", data["record_count"])
	}
}

func TestParseViewQuery_Defaults(t *testing.T) {
	s := createTestInsights()

	req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	q, err := parseViewQuery(req, s)
	if err != nil {
		t.Fatalf("parseViewQuery() failed: %v", err)
	}

	if q.SampleSize != s.DefaultSample() {
		t.Errorf("expected default sample %d, got %d", s.DefaultSample(), q.SampleSize)
	}
	if len(q.Towns) != 0 {
		t.Errorf("expected no town restriction by default, got %v", q.Towns)
	}
	if q.MinYear != 2021 || q.MaxYear != 2023 {
		t.Errorf("expected full year bounds by default, got [%d,%d]", q.MinYear, q.MaxYear)
	}
}

func TestParseViewQuery_CommaSeparatedTowns(t *testing.T) {
	s := createTestInsights()

	req := httptest.NewRequest(http.MethodGet, "/api/summary?towns=BEDOK,TAMPINES&towns=YISHUN", nil)
	q, err := parseViewQuery(req, s)
	if err != nil {
		t.Fatalf("parseViewQuery() failed: %v", err)
	}

	want := []string{"BEDOK", "TAMPINES", "YISHUN"}
	if len(q.Towns) != len(want) {
		t.Fatalf("expected towns %v, got %v", want, q.Towns)
	}
	for i := range want {
		if q.Towns[i] != want[i] {
			t.Errorf("town %d: expected %q, got %q", i, want[i], q.Towns[i])
		}
	}
}
