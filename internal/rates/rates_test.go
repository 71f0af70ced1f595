package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/dvloznov/audible-etl/internal/table"
)

func TestToTable(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCols []string
		wantRows [][]table.Value
		wantErr  bool
	}{
		{
			name:     "column oriented",
			body:     `{"conversion_rate": {"2021-04-02": 31.2, "2021-04-01": 31.194}}`,
			wantCols: []string{"date", "conversion_rate"},
			wantRows: [][]table.Value{
				{table.String("2021-04-01"), table.String("31.194")},
				{table.String("2021-04-02"), table.String("31.2")},
			},
		},
		{
			name:     "date keyed records",
			body:     `{"2021-01-01": {"conversion_rate": 30, "source": "bot"}, "2021-01-02": {"conversion_rate": null}}`,
			wantCols: []string{"date", "conversion_rate", "source"},
			wantRows: [][]table.Value{
				{table.String("2021-01-01"), table.String("30"), table.String("bot")},
				{table.String("2021-01-02"), table.Null(), table.Null()},
			},
		},
		{
			name:     "date keyed scalars",
			body:     `{"2021-01-01": 30.5}`,
			wantCols: []string{"date", "conversion_rate"},
			wantRows: [][]table.Value{
				{table.String("2021-01-01"), table.String("30.5")},
			},
		},
		{
			name:    "not json",
			body:    `<html>`,
			wantErr: true,
		},
		{
			name:    "trailing html after json",
			body:    `{"conversion_rate":{"2021-01-01":30}}<html>502 Bad Gateway</html>`,
			wantErr: true,
		},
		{
			name:    "trailing second document",
			body:    `{"2021-01-01": 30} {"2021-01-02": 31}`,
			wantErr: true,
		},
		{
			name:     "trailing newline",
			body:     "{\"2021-01-01\": 30}\n",
			wantCols: []string{"date", "conversion_rate"},
			wantRows: [][]table.Value{
				{table.String("2021-01-01"), table.String("30")},
			},
		},
		{
			name:    "array",
			body:    `[1, 2]`,
			wantErr: true,
		},
		{
			name:    "empty object",
			body:    `{}`,
			wantErr: true,
		},
		{
			name:    "column of scalars",
			body:    `{"conversion_rate": 30}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToTable([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToTable() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(got.Columns, tt.wantCols) {
				t.Errorf("columns = %v, want %v", got.Columns, tt.wantCols)
			}
			if !reflect.DeepEqual(got.Rows, tt.wantRows) {
				t.Errorf("rows = %v, want %v", got.Rows, tt.wantRows)
			}
		})
	}
}

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"conversion_rate": {"2021-01-01": 30}}`))
	}))
	defer srv.Close()

	body, err := NewClient(srv.URL, time.Second).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != `{"conversion_rate": {"2021-01-01": 30}}` {
		t.Errorf("unexpected body %s", body)
	}
}

func TestClient_FetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, time.Second).Fetch(context.Background()); err == nil {
		t.Error("expected error for 502 response")
	}
}

func TestClient_FetchEmptyURL(t *testing.T) {
	if _, err := NewClient("", time.Second).Fetch(context.Background()); err == nil {
		t.Error("expected error for empty URL")
	}
}
