package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"hdb-insights/internal/config"
	"hdb-insights/internal/dataset"
	"hdb-insights/internal/server"
	"hdb-insights/internal/services"
)

func newTestInsights() *services.Insights {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s := services.NewInsights(nil, config.DataGovConfig{
		ResourceID: "test-resource",
		MaxRecords: 10000,
		SortOrder:  "month desc",
	}, logger)

	s.SetData(&dataset.Dataset{
		Columns: []string{"town", "flat_type", "month", "resale_price", "floor_area_sqm"},
		Rows: []dataset.Row{
			{"town": "BEDOK", "flat_type": "3 ROOM", "month": "2023-05", "resale_price": "450000", "floor_area_sqm": "65"},
			{"town": "TAMPINES", "flat_type": "4 ROOM", "month": "2022-11", "resale_price": "520000", "floor_area_sqm": "93"},
			{"town": "YISHUN", "flat_type": "5 ROOM", "month": "2021-08", "resale_price": "610000", "floor_area_sqm": "120"},
		},
	})
	return s
}

func newTestServer() *server.Server {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	templateHandlers := &server.TemplateHandlers{Dashboard: handleDashboard}
	return server.NewServer(newTestInsights(), logger, templateHandlers)
}

// Integration tests for HTTP routes
func TestServer_Routes(t *testing.T) {
	srv := newTestServer()

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{"/", http.StatusOK},
		{"/health", http.StatusOK},
		{"/admin/stats", http.StatusOK},
		{"/api/filters", http.StatusOK},
		{"/api/summary", http.StatusOK},
		{"/api/pivot", http.StatusOK},
		{"/api/transactions", http.StatusOK},
		{"/sse/controls", http.StatusOK},
		{"/sse/dashboard", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			srv.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("GET %s: expected status %d, got %d", tt.path, tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestServer_DashboardPage(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc != cacheMaxAge {
		t.Errorf("expected cache-control %q, got %q", cacheMaxAge, cc)
	}

	body := w.Body.String()
	for _, content := range []string{
		"Singapore Housing Insights",
		`id="dashboard-alert"`,
		`id="metrics-content"`,
		`id="chart-status"`,
		`id="transactions-content"`,
		"/sse/controls",
		"/sse/dashboard",
	} {
		if !strings.Contains(body, content) {
			t.Errorf("expected dashboard page to contain %q", content)
		}
	}
}

func TestServer_SummaryPipeline(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/summary?towns=BEDOK", nil)
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}

	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatal("expected data object in response")
	}
	if data["transactions"] != float64(1) {
		t.Errorf("expected 1 BEDOK transaction, got %v", data["transactions"])
	}
	if data["mean_resale_price"] != float64(450000) {
		t.Errorf("expected mean price 450000, got %v", data["mean_resale_price"])
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/summary", nil)
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}
