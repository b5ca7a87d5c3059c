package elasticsearch

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/logger"
	"github.com/scoutbatch-go/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type article struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (a article) SearchableKey() string { return a.ID }

type shoutedArticle struct{ article }

func (a shoutedArticle) SearchableDocument() (map[string]interface{}, error) {
	return map[string]interface{}{"title": strings.ToUpper(a.Title)}, nil
}

type bulkCall struct {
	path  string
	query string
	lines []map[string]interface{}
}

type fakeCluster struct {
	mu       sync.Mutex
	calls    []bulkCall
	statuses []int
	respond  func(w http.ResponseWriter)
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	call := bulkCall{path: r.URL.Path, query: r.URL.RawQuery}
	sc := bufio.NewScanner(r.Body)
	for sc.Scan() {
		var line map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &line); err == nil {
			call.lines = append(call.lines, line)
		}
	}
	f.calls = append(f.calls, call)
	status := http.StatusOK
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	respond := f.respond
	f.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":"unavailable"}`)
		return
	}
	if respond != nil {
		respond(w)
		return
	}
	_, _ = io.WriteString(w, `{"errors":false,"items":[]}`)
}

func setupIndexer(t *testing.T, cluster *fakeCluster) *Indexer {
	t.Helper()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{srv.URL},
		DisableRetry: true,
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.IndexPrefix = "scout_"
	cfg.Refresh = "wait_for"
	cfg.Retry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1}
	return NewIndexer(client, cfg, logger.NewNop())
}

func TestIndexName(t *testing.T) {
	idx := setupIndexer(t, &fakeCluster{})
	assert.Equal(t, "scout_blog_post", idx.IndexName(`App\Models\BlogPost`))
	assert.Equal(t, "scout_posts", idx.IndexName("posts"))
}

func TestIndexRecords_SendsBulkIndexActions(t *testing.T) {
	cluster := &fakeCluster{}
	idx := setupIndexer(t, cluster)

	err := idx.IndexRecords(t.Context(), "posts", []batch.Record{
		article{ID: "1", Title: "first"},
		shoutedArticle{article{ID: "2", Title: "second"}},
	})
	require.NoError(t, err)

	require.Len(t, cluster.calls, 1)
	call := cluster.calls[0]
	assert.Equal(t, "/scout_posts/_bulk", call.path)
	assert.Contains(t, call.query, "refresh=wait_for")
	require.Len(t, call.lines, 4)
	assert.Equal(t, map[string]interface{}{"index": map[string]interface{}{"_id": "1"}}, call.lines[0])
	assert.Equal(t, "first", call.lines[1]["title"])
	assert.Equal(t, "SECOND", call.lines[3]["title"])
}

func TestDeindexRecords_IgnoresMissingDocuments(t *testing.T) {
	cluster := &fakeCluster{respond: func(w http.ResponseWriter) {
		_, _ = io.WriteString(w, `{"errors":true,"items":[
			{"delete":{"_id":"1","status":200}},
			{"delete":{"_id":"2","status":404,"result":"not_found"}}]}`)
	}}
	idx := setupIndexer(t, cluster)

	require.NoError(t, idx.DeindexRecords(t.Context(), "posts", []string{"1", "2"}))
	require.Len(t, cluster.calls, 1)
	assert.Equal(t, map[string]interface{}{"delete": map[string]interface{}{"_id": "2"}}, cluster.calls[0].lines[1])
}

func TestIndexRecords_RetriesUnavailableCluster(t *testing.T) {
	cluster := &fakeCluster{statuses: []int{http.StatusServiceUnavailable}}
	idx := setupIndexer(t, cluster)

	require.NoError(t, idx.IndexRecords(t.Context(), "posts", []batch.Record{article{ID: "1"}}))
	assert.Len(t, cluster.calls, 2)
}

func TestIndexRecords_RejectedDocumentsAreNotRetried(t *testing.T) {
	cluster := &fakeCluster{respond: func(w http.ResponseWriter) {
		_, _ = io.WriteString(w, `{"errors":true,"items":[
			{"index":{"_id":"1","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad title"}}}]}`)
	}}
	idx := setupIndexer(t, cluster)

	err := idx.IndexRecords(t.Context(), "posts", []batch.Record{article{ID: "1"}})
	require.Error(t, err)
	assert.ErrorContains(t, err, "mapper_parsing_exception")
	assert.True(t, resilience.IsPermanent(err))
	assert.Len(t, cluster.calls, 1)
}

func TestEmptyInputsSkipTheCluster(t *testing.T) {
	cluster := &fakeCluster{}
	idx := setupIndexer(t, cluster)

	require.NoError(t, idx.IndexRecords(t.Context(), "posts", nil))
	require.NoError(t, idx.DeindexRecords(t.Context(), "posts", nil))
	assert.Empty(t, cluster.calls)
}
