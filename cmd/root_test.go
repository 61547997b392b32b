package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

// newWiki serves a one page category listing Bob and a dead link to Ghost.
func newWiki(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/w/Category:NPCs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><div id="mw-content-text"><div id="mw-pages">`+
			`<div class="mw-category"><ul>`+
			`<li><a href="/w/Bob" title="Bob">Bob</a></li>`+
			`<li><a href="/w/Ghost" title="Ghost">Ghost</a></li>`+
			`</ul></div></div></div></body></html>`)
	})
	mux.HandleFunc("/w/Bob", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><h1 id="firstHeading">Bob</h1><div id="mw-content-text"><p>hi</p></div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`crawler:
  rate_interval: 1ms
  backoff_initial: 1ms
  backoff_max: 5ms
  respect_robots: false
storage:
  output_dir: %s
index:
  sqlite_path: %s
logging:
  level: error
%s`, filepath.Join(dir, "out"), filepath.Join(dir, "wikicrawl.db"), extra)
	path := filepath.Join(dir, "wikicrawl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func readStatus(t *testing.T, cfgPath string) statusReport {
	t.Helper()
	out, err := execute(t, "status", "--json", "--config", cfgPath)
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	return report
}

func entityStats(t *testing.T, report statusReport) crawler.FrontierStats {
	t.Helper()
	for _, s := range report.Frontier {
		if s.Kind == crawler.KindEntityPage {
			return s
		}
	}
	t.Fatalf("no entity stats in %+v", report.Frontier)
	return crawler.FrontierStats{}
}

func TestCrawlStatusRetryResetLifecycle(t *testing.T) {
	wiki := newWiki(t)
	cfgPath := writeConfig(t, "")
	root := wiki.URL + "/w/Category:NPCs"

	out, err := execute(t, "crawl", "--config", cfgPath, "--root-url", root, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "entities done")
	assert.Contains(t, out, "FAILED entity_page [not_found] "+wiki.URL+"/w/Ghost")

	report := readStatus(t, cfgPath)
	assert.Equal(t, 1, report.IndexedEntity)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, crawler.ErrKindNotFound, report.Failures[0].ErrorKind)
	assert.Equal(t, 1, entityStats(t, report).Done)

	out, err = execute(t, "retry-failed", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "requeued 1 target(s)\n", out)
	report = readStatus(t, cfgPath)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 1, entityStats(t, report).Pending)

	_, err = execute(t, "reset", "--config", cfgPath)
	require.ErrorIs(t, err, errResetNotConfirmed)

	out, err = execute(t, "reset", "--confirm", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "frontier cleared\n", out)
	report = readStatus(t, cfgPath)
	assert.Zero(t, entityStats(t, report).Total())
	assert.Equal(t, 1, report.IndexedEntity, "reset keeps stored records")
}

func TestStatusTextOutput(t *testing.T) {
	cfgPath := writeConfig(t, "")

	out, err := execute(t, "status", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "category_page")
	assert.Contains(t, out, "indexed entities: 0")
}

func TestCrawlRequiresRootURL(t *testing.T) {
	cfgPath := writeConfig(t, "")

	_, err := execute(t, "crawl", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawler.root_url is required")
}

func TestCrawlRootUnreachable(t *testing.T) {
	wiki := newWiki(t)
	cfgPath := writeConfig(t, "")

	_, err := execute(t, "crawl", "--config", cfgPath, "--root-url", wiki.URL+"/w/Category:Missing")
	require.ErrorIs(t, err, crawler.ErrRootUnreachable)
}

func TestRetryFailedRejectsUnknownKind(t *testing.T) {
	cfgPath := writeConfig(t, "")

	_, err := execute(t, "retry-failed", "--kind", "image", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown kind "image"`)
}

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds("all")
	require.NoError(t, err)
	assert.Equal(t, []crawler.TargetKind{crawler.KindCategoryPage, crawler.KindEntityPage}, kinds)

	kinds, err = parseKinds("category_page")
	require.NoError(t, err)
	assert.Equal(t, []crawler.TargetKind{crawler.KindCategoryPage}, kinds)
}

func TestInvalidConfigFails(t *testing.T) {
	cfgPath := writeConfig(t, "server:\n  port: -1\n")

	_, err := execute(t, "status", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestUnreachableBackendFails(t *testing.T) {
	cfgPath := writeConfig(t, "frontier:\n  backend: redis\n  redis_addr: 127.0.0.1:1\n")

	_, err := execute(t, "status", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}

func TestServeUntilDoneShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}

	done := make(chan error, 1)
	go func() { done <- serveUntilDone(ctx, srv, zap.NewNop()) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestResolveAppWithoutInit(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
