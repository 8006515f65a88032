// Package listing implements the Routing Engine's streaming list responder:
// given a storage.Store and a request's format/pagination query parameters,
// it either returns one JSON object (finite limit) or flushes cursor pages
// as chunks of a JSON array or CSV, per spec.md §4.5. It generalizes the
// teacher's internal/httpserver.OffsetPage/CursorPage machinery into a
// single streaming producer shared by every entity handler.
package listing

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/linkbroker/linkbroker/internal/httpserver"
	"github.com/linkbroker/linkbroker/internal/storage"
)

// Format selects the wire representation of a streamed list.
type Format string

const (
	FormatArray Format = "array"
	FormatCSV   Format = "csv"
)

// Params holds the parsed query parameters controlling a streamed list.
type Params struct {
	Format Format
	After  *storage.Cursor
	Limit  int // 0 means "stream everything", per spec.md §4.5
}

// ParseParams reads format/limit/after from the request's query string.
func ParseParams(r *http.Request) (Params, error) {
	p := Params{Format: FormatArray}

	if v := r.URL.Query().Get("format"); v == string(FormatCSV) {
		p.Format = FormatCSV
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("limit must be a non-negative integer")
		}
		p.Limit = n
	}

	if v := r.URL.Query().Get("after"); v != "" {
		c, err := httpserver.DecodeCursor(v)
		if err != nil {
			return p, fmt.Errorf("invalid cursor: %w", err)
		}
		p.After = &storage.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
	}

	return p, nil
}

// RowFunc converts an item to a CSV row. Nested info bags should be
// JSON-encoded into a single cell.
type RowFunc[T any] func(T) []string

// JSONCell JSON-encodes v for embedding as a single CSV cell, per spec.md
// §4.5's "CSV rows JSON-encode nested info bags into one cell" rule.
func JSONCell(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Stream writes items fetched from fetch to w, following format. For
// limit=0 it streams every page until exhausted, flushing after each page
// and stopping the moment the client disconnects (a Write error on a
// cancelled request's ResponseWriter propagates the cancellation into the
// next fetch call via r.Context(), satisfying spec.md §5's cancellation
// rule). For a finite limit it collects one page and writes a single JSON
// response.
func Stream[T any](w http.ResponseWriter, r *http.Request, header []string, toRow RowFunc[T], params Params, fetch func(opts storage.ListOptions) (storage.Page[T], error)) {
	ctx := r.Context()

	if params.Limit > 0 {
		page, err := fetch(storage.ListOptions{After: params.After, Limit: params.Limit})
		if err != nil {
			httpserver.RespondError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeOnePage(w, params.Format, header, toRow, page)
		return
	}

	switch params.Format {
	case FormatCSV:
		streamCSV(ctx, w, header, toRow, params, fetch)
	default:
		streamJSONArray(ctx, w, toRow, params, fetch)
	}
}

func writeOnePage[T any](w http.ResponseWriter, format Format, header []string, toRow RowFunc[T], page storage.Page[T]) {
	if format == FormatCSV {
		w.Header().Set("Content-Type", "text/csv")
		cw := csv.NewWriter(w)
		_ = cw.Write(header)
		for _, item := range page.Items {
			_ = cw.Write(toRow(item))
		}
		cw.Flush()
		return
	}

	resp := struct {
		Items      []T     `json:"items"`
		NextCursor *string `json:"next_cursor,omitempty"`
		HasMore    bool    `json:"has_more"`
	}{Items: page.Items, HasMore: page.HasMore}
	if page.HasMore && page.Next != nil {
		c := httpserver.EncodeCursor(httpserver.Cursor{CreatedAt: page.Next.CreatedAt, ID: page.Next.ID})
		resp.NextCursor = &c
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func streamCSV[T any](ctx interface{ Done() <-chan struct{} }, w http.ResponseWriter, header []string, toRow RowFunc[T], params Params, fetch func(storage.ListOptions) (storage.Page[T], error)) {
	w.Header().Set("Content-Type", "text/csv")
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	_ = cw.Write(header)

	after := params.After
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		page, err := fetch(storage.ListOptions{After: after, Limit: 500})
		if err != nil {
			return
		}
		for _, item := range page.Items {
			if err := cw.Write(toRow(item)); err != nil {
				return
			}
		}
		cw.Flush()
		if err := bw.Flush(); err != nil {
			return // client disconnected
		}
		if !page.HasMore || page.Next == nil {
			return
		}
		after = page.Next
	}
}

func streamJSONArray[T any](ctx interface{ Done() <-chan struct{} }, w http.ResponseWriter, toRow RowFunc[T], params Params, fetch func(storage.ListOptions) (storage.Page[T], error)) {
	w.Header().Set("Content-Type", "application/json")
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	if _, err := bw.WriteString("["); err != nil {
		return
	}

	after := params.After
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		page, err := fetch(storage.ListOptions{After: after, Limit: 500})
		if err != nil {
			return
		}
		for _, item := range page.Items {
			if !first {
				if _, err := bw.WriteString(","); err != nil {
					return
				}
			}
			first = false
			if err := enc.Encode(item); err != nil {
				return
			}
		}
		if err := bw.Flush(); err != nil {
			return // client disconnected
		}
		if !page.HasMore || page.Next == nil {
			break
		}
		after = page.Next
	}

	_, _ = bw.WriteString("]")
	_ = bw.Flush()
}
