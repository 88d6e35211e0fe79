package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ytsheets/internal/logger"
	"ytsheets/internal/retry"
	"ytsheets/youtube"

	"google.golang.org/api/option"
)

// fakeSheets is a minimal in-memory Sheets API for a single spreadsheet.
type fakeSheets struct {
	mu        sync.Mutex
	tabs      map[string]int64
	rules     map[string]int
	values    map[string][][]any
	batches   []map[string]any
	appendErr int
	nextID    int64
}

func newFakeSheets(tabs ...string) *fakeSheets {
	f := &fakeSheets{tabs: map[string]int64{}, rules: map[string]int{}, values: map[string][][]any{}, nextID: 100}
	for i, tab := range tabs {
		f.tabs[tab] = int64(i)
	}
	return f
}

func tabOf(rng string) string {
	tab := rng[:strings.LastIndex(rng, "!")]
	return strings.ReplaceAll(strings.Trim(tab, "'"), "''", "'")
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/sheet-1")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case path == "" && r.Method == http.MethodGet:
		var sheets []map[string]any
		for title, id := range f.tabs {
			sh := map[string]any{"properties": map[string]any{"sheetId": id, "title": title}}
			if n := f.rules[title]; n > 0 {
				sh["conditionalFormats"] = make([]map[string]any, n)
			}
			sheets = append(sheets, sh)
		}
		json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})

	case path == ":batchUpdate":
		var req struct {
			Requests []map[string]json.RawMessage `json:"requests"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		var replies []map[string]any
		for _, rq := range req.Requests {
			f.batches = append(f.batches, map[string]any{"kinds": keys(rq)})
			if raw, ok := rq["addSheet"]; ok {
				var add struct {
					Properties struct {
						Title string `json:"title"`
					} `json:"properties"`
				}
				json.Unmarshal(raw, &add)
				f.tabs[add.Properties.Title] = f.nextID
				replies = append(replies, map[string]any{"addSheet": map[string]any{
					"properties": map[string]any{"sheetId": f.nextID, "title": add.Properties.Title},
				}})
				f.nextID++
				continue
			}
			if _, ok := rq["addConditionalFormatRule"]; ok {
				for tab := range f.tabs {
					f.rules[tab]++
				}
			}
			replies = append(replies, map[string]any{})
		}
		json.NewEncoder(w).Encode(map[string]any{"replies": replies})

	case strings.HasPrefix(path, "/values/"):
		rest := strings.TrimPrefix(path, "/values/")
		switch {
		case strings.HasSuffix(rest, ":append"):
			if f.appendErr > 0 {
				f.appendErr--
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, `{"error":{"code":500,"message":"backend"}}`)
				return
			}
			var vr struct {
				Values [][]any `json:"values"`
			}
			json.NewDecoder(r.Body).Decode(&vr)
			tab := tabOf(strings.TrimSuffix(rest, ":append"))
			f.values[tab] = append(f.values[tab], vr.Values...)
			json.NewEncoder(w).Encode(map[string]any{})
		case r.Method == http.MethodPut:
			var vr struct {
				Values [][]any `json:"values"`
			}
			json.NewDecoder(r.Body).Decode(&vr)
			tab := tabOf(rest)
			f.values[tab] = append(vr.Values, f.values[tab]...)
			json.NewEncoder(w).Encode(map[string]any{})
		default:
			tab := tabOf(rest)
			if _, ok := f.tabs[tab]; !ok {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"error":{"code":400,"message":"Unable to parse range"}}`)
				return
			}
			rows := f.values[tab]
			if len(rows) > 0 {
				rows = rows[1:]
			}
			ids := make([][]any, 0, len(rows))
			for _, row := range rows {
				ids = append(ids, row[:1])
			}
			json.NewEncoder(w).Encode(map[string]any{"values": ids})
		}

	default:
		http.NotFound(w, r)
	}
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func newTestDestination(t *testing.T, f *fakeSheets) *APIDestination {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	d, err := NewAPIDestination(context.Background(), APIConfig{
		SpreadsheetID: "sheet-1",
		HTTPClient:    srv.Client(),
		Retry:         retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, Multiplier: 2},
		Logger:        logger.Nop(),
	}, option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewAPIDestination() error = %v", err)
	}
	return d
}

func TestNewAPIDestinationRequiresID(t *testing.T) {
	_, err := NewAPIDestination(context.Background(), APIConfig{})
	if !errors.Is(err, ErrInvalidSpreadsheetURL) {
		t.Errorf("error = %v", err)
	}
}

func TestEnsureTab(t *testing.T) {
	f := newFakeSheets("Existing")
	d := newTestDestination(t, f)
	ctx := context.Background()

	created, err := d.EnsureTab(ctx, "Existing")
	if err != nil || created {
		t.Errorf("EnsureTab(Existing) = %v, %v; want false, nil", created, err)
	}

	created, err = d.EnsureTab(ctx, "New Tab")
	if err != nil || !created {
		t.Fatalf("EnsureTab(New Tab) = %v, %v; want true, nil", created, err)
	}
	if _, ok := f.tabs["New Tab"]; !ok {
		t.Error("tab was not added")
	}
	if rows := f.values["New Tab"]; len(rows) != 1 || rows[0][0] != "Video ID" {
		t.Errorf("header row = %v", rows)
	}

	if _, err := d.EnsureTab(ctx, "bad/name"); !errors.Is(err, ErrInvalidTabName) {
		t.Errorf("EnsureTab(bad/name) error = %v", err)
	}
}

func TestWriteAndReadBack(t *testing.T) {
	f := newFakeSheets()
	d := newTestDestination(t, f)
	ctx := context.Background()

	if _, err := d.EnsureTab(ctx, "Videos"); err != nil {
		t.Fatal(err)
	}
	batch := []youtube.Video{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}
	if err := d.WriteBatch(ctx, "Videos", batch); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}
	if err := d.WriteBatch(ctx, "Videos", nil); err != nil {
		t.Fatalf("WriteBatch(nil) error = %v", err)
	}

	ids, err := d.ReadExistingIDs(ctx, "Videos")
	if err != nil {
		t.Fatalf("ReadExistingIDs() error = %v", err)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Errorf("ReadExistingIDs() = %v, want [a b]", ids)
	}
}

func TestReadExistingIDsMissingTab(t *testing.T) {
	d := newTestDestination(t, newFakeSheets())
	_, err := d.ReadExistingIDs(context.Background(), "Nope")
	var destErr *DestinationError
	if !errors.As(err, &destErr) || destErr.Tab != "Nope" {
		t.Errorf("error = %v, want DestinationError for tab Nope", err)
	}
}

func TestWriteBatchRetriesThenFails(t *testing.T) {
	f := newFakeSheets("Videos")
	d := newTestDestination(t, f)

	f.appendErr = 1
	if err := d.WriteBatch(context.Background(), "Videos", []youtube.Video{{ID: "a"}}); err != nil {
		t.Fatalf("WriteBatch() after one 500 error = %v", err)
	}

	f.appendErr = 10
	err := d.WriteBatch(context.Background(), "Videos", []youtube.Video{{ID: "b"}})
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("error = %v, want ErrWriteFailed", err)
	}
}

func TestApplyFormattingAddsRulesOnce(t *testing.T) {
	f := newFakeSheets("Videos")
	d := newTestDestination(t, f)
	ctx := context.Background()

	if err := d.ApplyFormatting(ctx, "Videos"); err != nil {
		t.Fatalf("ApplyFormatting() error = %v", err)
	}
	if len(f.batches) != 4 {
		t.Errorf("first pass sent %d requests, want 4", len(f.batches))
	}

	if err := d.ApplyFormatting(ctx, "Videos"); err != nil {
		t.Fatalf("second ApplyFormatting() error = %v", err)
	}
	if len(f.batches) != 6 {
		t.Errorf("second pass sent %d requests, want 2 more", len(f.batches)-4)
	}
	if f.rules["Videos"] != 2 {
		t.Errorf("conditional rules = %d, want 2", f.rules["Videos"])
	}

	if err := d.ApplyFormatting(ctx, "Missing"); err == nil {
		t.Error("ApplyFormatting() on missing tab succeeded")
	}
}
