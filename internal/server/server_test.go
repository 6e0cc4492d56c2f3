package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/coffersTech/grandoutput/internal/config"
	"github.com/coffersTech/grandoutput/internal/model"
	"github.com/coffersTech/grandoutput/internal/registry"
	"github.com/coffersTech/grandoutput/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeIngester struct {
	mu      sync.Mutex
	topics  []string
	entries []model.Entry
}

func (f *fakeIngester) Handle(topic string, e *model.Entry) bool {
	if topic == "reject" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.entries = append(f.entries, *e)
	return true
}

func do(t *testing.T, h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func tokens(t *testing.T, plain string) []config.Token {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return []config.Token{{Name: "agent", Hash: string(hash)}}
}

func TestIngest(t *testing.T) {
	ing := &fakeIngester{}
	s := New(Options{Ingester: ing, DataDir: t.TempDir(), Tokens: tokens(t, "s3cret"), Logger: quietLogger()})
	h := s.Handler()
	mon := model.NewMonitorID()

	body := `[
		{"topic": "orders", "monitor": "` + mon.String() + `", "type": "open", "time": 100, "level": "warn", "text": "checkout", "tags": ["db", "eu"]},
		{"topic": "orders", "monitor": "` + mon.String() + `", "time": 101, "depth": 1, "previous_type": "open", "previous_time": 100, "message": "paid", "exception": "boom"},
		{"topic": "reject", "monitor": "` + mon.String() + `"}
	]`
	rec := do(t, h, http.MethodPost, "/api/ingest", "s3cret", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, map[string]int{"accepted": 2, "rejected": 1}, resp)

	require.Len(t, ing.entries, 2)
	assert.Equal(t, []string{"orders", "orders"}, ing.topics)
	open, line := ing.entries[0], ing.entries[1]
	assert.Equal(t, model.EntryOpenGroup, open.Type)
	assert.Equal(t, mon, open.MonitorID)
	assert.Equal(t, model.LogTime(100), open.Time)
	assert.Equal(t, model.LevelWarn, open.Level)
	assert.Equal(t, []string{"db", "eu"}, open.Tags)
	assert.Equal(t, model.EntryLine, line.Type)
	assert.Equal(t, 1, line.Depth)
	assert.Equal(t, model.EntryOpenGroup, line.PreviousType)
	assert.Equal(t, model.LogTime(100), line.PreviousTime)
	assert.Equal(t, "paid", line.Text)
	assert.Equal(t, "boom", line.Exception)
	assert.Equal(t, model.LevelInfo, line.Level)

	rec = do(t, h, http.MethodGet, "/api/live", "s3cret", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var live []registry.Monitor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &live))
	require.Len(t, live, 1)
	assert.Equal(t, mon.String(), live[0].ID)
	assert.Equal(t, uint64(2), live[0].Entries)
	assert.Equal(t, 1, live[0].Depth)
	assert.Equal(t, "orders", live[0].Topic)

	rec = do(t, h, http.MethodGet, "/api/stats", "", "")
	assert.JSONEq(t, `{"accepted": 2, "rejected": 1}`, rec.Body.String())
}

func TestIngest_Rejections(t *testing.T) {
	ing := &fakeIngester{}
	s := New(Options{Ingester: ing, DataDir: t.TempDir(), Tokens: tokens(t, "s3cret"), Logger: quietLogger()})
	h := s.Handler()
	mon := model.NewMonitorID().String()

	tests := []struct {
		name  string
		token string
		body  string
		code  int
	}{
		{"missing token", "", `{}`, http.StatusUnauthorized},
		{"wrong token", "nope", `{}`, http.StatusUnauthorized},
		{"invalid json", "s3cret", `{`, http.StatusBadRequest},
		{"missing monitor", "s3cret", `{"text": "x"}`, http.StatusBadRequest},
		{"bad monitor", "s3cret", `{"monitor": "xyz"}`, http.StatusBadRequest},
		{"bad type", "s3cret", `{"monitor": "` + mon + `", "type": "blob"}`, http.StatusBadRequest},
		{"negative depth", "s3cret", `{"monitor": "` + mon + `", "depth": -1}`, http.StatusBadRequest},
		{"not an object", "s3cret", `[1]`, http.StatusBadRequest},
		{"second entry invalid", "s3cret", `[{"monitor": "` + mon + `"}, {"monitor": ""}]`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/ingest", tt.token, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, ing.entries, "invalid batches are not routed")

	rec := do(t, h, http.MethodPost, "/api/ingest?token=s3cret", "", `{"monitor": "`+mon+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ing.entries, 1)
	assert.NotZero(t, ing.entries[0].Time, "missing time is stamped")
}

func writeSegment(t *testing.T, dir string, entries ...model.Entry) {
	t.Helper()
	w, err := storage.NewSegmentWriter(storage.WriterOptions{Dir: dir, Compression: storage.CompressionLZ4, Logger: quietLogger()})
	require.NoError(t, err)
	for i := range entries {
		require.NoError(t, w.Write(&entries[i]))
	}
	require.NoError(t, w.Close())
}

type pageResponse struct {
	Monitor string      `json:"monitor"`
	Entries []entryJSON `json:"entries"`
	Depth   int         `json:"depth"`
	Next    *int64      `json:"next"`
}

func TestMonitorsAndPages(t *testing.T) {
	dir := t.TempDir()
	mon := model.NewMonitorID()
	entries := []model.Entry{
		{Type: model.EntryOpenGroup, MonitorID: mon, Time: 10, Level: model.LevelInfo, Text: "job"},
		{Type: model.EntryLine, MonitorID: mon, Time: 11, Depth: 1, Level: model.LevelInfo, Text: "query", Tags: []string{"db"}, PreviousType: model.EntryOpenGroup, PreviousTime: 10},
		{Type: model.EntryLine, MonitorID: mon, Time: 12, Depth: 1, Level: model.LevelError, Text: "failed", PreviousType: model.EntryLine, PreviousTime: 11},
		{Type: model.EntryCloseGroup, MonitorID: mon, Time: 13, Level: model.LevelInfo, PreviousType: model.EntryLine, PreviousTime: 12},
	}
	writeSegment(t, dir, entries...)

	s := New(Options{Ingester: &fakeIngester{}, DataDir: dir, Logger: quietLogger()})
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/monitors", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var monitors struct {
		Monitors   []monitorJSON `json:"monitors"`
		ValidFiles int           `json:"valid_files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &monitors))
	require.Len(t, monitors.Monitors, 1)
	assert.Equal(t, 1, monitors.ValidFiles)
	assert.Equal(t, mon.String(), monitors.Monitors[0].ID)
	assert.Equal(t, int64(10), monitors.Monitors[0].FirstEntryTime)
	assert.Equal(t, int64(13), monitors.Monitors[0].LastEntryTime)
	assert.Equal(t, map[string]int{"db": 1}, monitors.Monitors[0].Tags)

	page := func(query url.Values) pageResponse {
		rec := do(t, h, http.MethodGet, "/api/monitors/"+mon.String()+"/page?"+query.Encode(), "", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var p pageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		return p
	}

	all := page(url.Values{})
	require.Len(t, all.Entries, 4)
	assert.Nil(t, all.Next)
	assert.Equal(t, "job", all.Entries[1].ParentText)
	assert.Equal(t, "close", all.Entries[3].Type)

	filtered := page(url.Values{"q": {"tag:db OR level:error"}})
	require.Len(t, filtered.Entries, 2)
	assert.Equal(t, "query", filtered.Entries[0].Text)
	assert.Equal(t, "failed", filtered.Entries[1].Text)

	first := page(url.Values{"limit": {"2"}})
	require.Len(t, first.Entries, 2)
	require.NotNil(t, first.Next)
	assert.Equal(t, int64(12), *first.Next)
	assert.Equal(t, 1, first.Depth)

	rest := page(url.Values{"from": {"12"}, "limit": {"2"}})
	require.Len(t, rest.Entries, 2)
	assert.Equal(t, "failed", rest.Entries[0].Text)
	assert.Equal(t, "missing open group", rest.Entries[0].Missing)
	assert.Equal(t, "failed", rest.Entries[1].Text)
	assert.Empty(t, rest.Entries[1].Missing)
}

func TestPage_Errors(t *testing.T) {
	dir := t.TempDir()
	mon := model.NewMonitorID()
	writeSegment(t, dir, model.Entry{Type: model.EntryLine, MonitorID: mon, Time: 5, Level: model.LevelInfo, Text: "x"})
	s := New(Options{Ingester: &fakeIngester{}, DataDir: dir, Logger: quietLogger()})
	h := s.Handler()

	base := "/api/monitors/" + mon.String() + "/page"
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/monitors/nope/page", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, base+"?from=abc", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, base+"?limit=0", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, base+"?q="+url.QueryEscape("(level:"), "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/monitors/"+model.NewMonitorID().String()+"/page", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, base, "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/metrics", "", "").Code, "no gatherer, no metrics")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "grandoutput_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	s := New(Options{Ingester: &fakeIngester{}, DataDir: t.TempDir(), Gatherer: reg, Logger: quietLogger()})

	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "grandoutput_test_total 1")
}

func TestHashToken(t *testing.T) {
	hash, err := HashToken("abc")
	require.NoError(t, err)
	a := newAuthenticator([]config.Token{{Name: "x", Hash: hash}})
	name, ok := a.verify("abc")
	assert.True(t, ok)
	assert.Equal(t, "x", name)
	_, ok = a.verify("abd")
	assert.False(t, ok)
	name, ok = a.verify("abc")
	assert.True(t, ok, "cached")
	assert.Equal(t, "x", name)
}
