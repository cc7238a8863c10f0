package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goption "google.golang.org/api/option"

	"payup/internal/config"
	"payup/internal/core"
	"payup/internal/log"
)

func sampleGroup() core.Group {
	return core.Group{Key: "ABC123", Name: "Trip", Policy: core.PayerIncluded}
}

func sampleSummary() core.Summary {
	return core.Summary{
		GroupKey:   "ABC123",
		Records:    2,
		TotalSpent: core.Money{Cents: 1301},
		Balances:   core.BalanceMap{"carol": -634, "alice": 666, "bob": -32},
		Transfers: []core.Transfer{
			{From: "carol", To: "alice", Amount: 634},
			{From: "bob", To: "alice", Amount: 32},
		},
		ComputedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPlanRows(t *testing.T) {
	rows := PlanRows(sampleGroup(), sampleSummary())

	assert.Equal(t, []any{"Group", "Trip", "ABC123"}, rows[0])
	assert.Equal(t, []any{"Computed at", "2024-05-01T10:00:00Z"}, rows[1])
	assert.Equal(t, []any{"Total spent", "13.01"}, rows[3])
	assert.Equal(t, []any{"Participant", "Balance"}, rows[5])
	assert.Equal(t, []any{"alice", "6.66"}, rows[6])
	assert.Equal(t, []any{"bob", "-0.32"}, rows[7])
	assert.Equal(t, []any{"carol", "-6.34"}, rows[8])
	assert.Equal(t, []any{"From", "To", "Amount"}, rows[10])
	assert.Equal(t, []any{"carol", "alice", "6.34"}, rows[11])
	assert.Equal(t, []any{"bob", "alice", "0.32"}, rows[12])
	assert.Len(t, rows, 13)
}

func TestPlanRows_Settled(t *testing.T) {
	s := core.Summary{Balances: core.BalanceMap{"alice": 0}}
	rows := PlanRows(sampleGroup(), s)
	assert.Equal(t, []any{"Settled"}, rows[len(rows)-1])
}

func TestA1Range(t *testing.T) {
	assert.Equal(t, "'Settlements ABC123'!A:D", a1Range(tabName("Settlements", "ABC123"), "A:D"))
	assert.Equal(t, "'Bob''s'!A1", a1Range("Bob's", "A1"))
}

func TestNewFromConfig_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewFromConfig(ctx, &config.Config{}, nil)
	require.Error(t, err)
	assert.Equal(t, "missing GOOGLE_SPREADSHEET_ID", err.Error())

	_, err = NewFromConfig(ctx, &config.Config{GoogleSpreadsheetID: "id"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing service account credentials")

	_, err = NewFromConfig(ctx, &config.Config{
		GoogleSpreadsheetID:      "id",
		GoogleServiceAccountFile: "/non/existent/sa.json",
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read service account file")
}

func TestExportPlan_NilService(t *testing.T) {
	c := &Client{spreadsheetID: "test", sheetBase: "Settlements", logger: log.Discard()}
	_, err := c.ExportPlan(context.Background(), sampleGroup(), sampleSummary())
	require.Error(t, err)
}

// fakeSheets answers the four Sheets API calls ExportPlan makes.
type fakeSheets struct {
	mu      sync.Mutex
	tabs    []string
	calls   []string
	written [][]any
	input   string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet:
		sheets := make([]map[string]any, 0, len(f.tabs))
		for _, t := range f.tabs {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": t}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	case strings.HasSuffix(r.URL.Path, ":batchUpdate"):
		var req struct {
			Requests []struct {
				AddSheet struct {
					Properties struct {
						Title string `json:"title"`
					} `json:"properties"`
				} `json:"addSheet"`
			} `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			f.tabs = append(f.tabs, rq.AddSheet.Properties.Title)
		}
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPut:
		var vr struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.written = vr.Values
		f.input = r.URL.Query().Get("valueInputOption")
		_, _ = w.Write([]byte(`{}`))
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func newFakeClient(t *testing.T, f *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), "sheet-1", "", log.Discard(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication())
	require.NoError(t, err)
	return c
}

func TestExportPlan_CreatesTabAndWritesRows(t *testing.T) {
	f := &fakeSheets{tabs: []string{"Sheet1"}}
	c := newFakeClient(t, f)

	ref, err := c.ExportPlan(context.Background(), sampleGroup(), sampleSummary())
	require.NoError(t, err)
	assert.Equal(t, "'Settlements ABC123'!A1:D13", ref)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Contains(t, f.tabs, "Settlements ABC123")
	require.Len(t, f.calls, 4)
	assert.True(t, strings.HasPrefix(f.calls[0], "GET "))
	assert.True(t, strings.HasSuffix(f.calls[1], ":batchUpdate"))
	assert.True(t, strings.HasSuffix(f.calls[2], ":clear"))
	assert.True(t, strings.HasPrefix(f.calls[3], "PUT "))
	assert.Equal(t, "USER_ENTERED", f.input)
	require.Len(t, f.written, 13)
	assert.Equal(t, "Trip", f.written[0][1])
}

func TestExportPlan_ReusesExistingTab(t *testing.T) {
	f := &fakeSheets{tabs: []string{"Settlements ABC123"}}
	c := newFakeClient(t, f)

	_, err := c.ExportPlan(context.Background(), sampleGroup(), sampleSummary())
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.calls, 3)
	for _, call := range f.calls {
		assert.NotContains(t, call, ":batchUpdate")
	}
}
