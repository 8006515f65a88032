package listing

import (
	"encoding/csv"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/linkbroker/linkbroker/internal/storage"
)

type row struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func rowsOf(n int) []row {
	rows := make([]row, n)
	for i := range rows {
		rows[i] = row{ID: strconv.Itoa(i), Name: "item-" + strconv.Itoa(i)}
	}
	return rows
}

func pagedFetcher(all []row, pageSize int) func(storage.ListOptions) (storage.Page[row], error) {
	return func(opts storage.ListOptions) (storage.Page[row], error) {
		start := 0
		if opts.After != nil {
			for i, r := range all {
				if r.ID == opts.After.ID {
					start = i + 1
					break
				}
			}
		}
		end := start + pageSize
		if end > len(all) {
			end = len(all)
		}
		items := all[start:end]
		page := storage.Page[row]{Items: items, HasMore: end < len(all)}
		if page.HasMore && len(items) > 0 {
			page.Next = &storage.Cursor{ID: items[len(items)-1].ID}
		}
		return page, nil
	}
}

func toRow(r row) []string { return []string{r.ID, r.Name} }

func TestStream_FiniteLimitReturnsOneJSONPage(t *testing.T) {
	all := rowsOf(5)
	fetch := pagedFetcher(all, 3)

	r := httptest.NewRequest("GET", "/?limit=3", nil)
	w := httptest.NewRecorder()

	Stream(w, r, []string{"id", "name"}, toRow, Params{Format: FormatArray, Limit: 3}, fetch)

	var resp struct {
		Items      []row   `json:"items"`
		NextCursor *string `json:"next_cursor"`
		HasMore    bool    `json:"has_more"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("got %d items, want 3", len(resp.Items))
	}
}

func TestStream_UnboundedJSONArrayFollowsAllPages(t *testing.T) {
	all := rowsOf(7)
	fetch := pagedFetcher(all, 2)

	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	Stream(w, r, []string{"id", "name"}, toRow, Params{Format: FormatArray}, fetch)

	var got []row
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decoding streamed array: %v, body = %s", err, w.Body.String())
	}
	if len(got) != len(all) {
		t.Fatalf("got %d items, want %d", len(got), len(all))
	}
	for i, r := range got {
		if r.ID != all[i].ID {
			t.Fatalf("item %d ID = %q, want %q", i, r.ID, all[i].ID)
		}
	}
}

func TestStream_UnboundedCSVFollowsAllPages(t *testing.T) {
	all := rowsOf(6)
	fetch := pagedFetcher(all, 3)

	r := httptest.NewRequest("GET", "/?format=csv", nil)
	w := httptest.NewRecorder()

	params := Params{Format: FormatCSV}
	Stream(w, r, []string{"id", "name"}, toRow, params, fetch)

	cr := csv.NewReader(strings.NewReader(w.Body.String()))
	records, err := cr.ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(records) != len(all)+1 {
		t.Fatalf("got %d records (incl. header), want %d", len(records), len(all)+1)
	}
	if records[0][0] != "id" || records[0][1] != "name" {
		t.Fatalf("header = %v", records[0])
	}
	for i, r := range all {
		if records[i+1][0] != r.ID {
			t.Errorf("record %d id = %q, want %q", i, records[i+1][0], r.ID)
		}
	}
}

func TestStream_EmptyResultSet(t *testing.T) {
	fetch := pagedFetcher(nil, 10)
	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	Stream(w, r, []string{"id", "name"}, toRow, Params{Format: FormatArray}, fetch)

	var got []row
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decoding empty array: %v, body = %s", err, w.Body.String())
	}
	if len(got) != 0 {
		t.Fatalf("got %d items, want 0", len(got))
	}
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantFormat Format
		wantLimit  int
		wantErr    bool
	}{
		{name: "defaults", query: "", wantFormat: FormatArray, wantLimit: 0},
		{name: "csv format", query: "format=csv", wantFormat: FormatCSV, wantLimit: 0},
		{name: "explicit limit", query: "limit=50", wantFormat: FormatArray, wantLimit: 50},
		{name: "negative limit rejected", query: "limit=-1", wantErr: true},
		{name: "non-numeric limit rejected", query: "limit=abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/?"+tt.query, nil)
			p, err := ParseParams(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if p.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", p.Format, tt.wantFormat)
			}
			if p.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", p.Limit, tt.wantLimit)
			}
		})
	}
}

func TestJSONCell(t *testing.T) {
	got := JSONCell(map[string]int{"a": 1})
	if got != `{"a":1}` {
		t.Errorf("JSONCell() = %q, want %q", got, `{"a":1}`)
	}
}
