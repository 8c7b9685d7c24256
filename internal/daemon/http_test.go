package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/vcs"
)

func newTestServer(t *testing.T, d *Daemon) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newHTTPServer(d).routes())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestTriggerEndpoint(t *testing.T) {
	mem := vcs.NewMemory("main")
	mem.Commit(vcs.MemoryCommit{Hash: "745aa1", Author: "ana@example.com"})

	runner := newFakeRunner()
	runner.script("test", scripted{metrics: build.StageMetrics{PassRate: build.Pct(100)}})

	cfg := testConfig(t, defaultStages(), nil)
	d := startDaemon(t, cfg, runner, mem)
	srv := newTestServer(t, d)

	resp := postJSON(t, srv.URL+"/api/trigger", map[string]any{"pipeline": "orders"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		BuildID string `json:"build_id"`
	}
	decodeBody(t, resp, &out)
	require.NotEmpty(t, out.BuildID)

	waitFor(t, func() bool {
		summary, ok := d.Projection().GetBuild(out.BuildID)
		return ok && summary.Status == "promoted"
	})

	// The finished build is visible through the status endpoint.
	statusResp, err := http.Get(srv.URL + "/api/builds/" + out.BuildID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, statusResp.StatusCode)
	var summary struct {
		Status string `json:"status"`
		Label  string `json:"label"`
	}
	decodeBody(t, statusResp, &summary)
	assert.Equal(t, "promoted", summary.Status)
	assert.Equal(t, "main.01", summary.Label)
}

func TestTriggerEndpointRejectsBadRequests(t *testing.T) {
	mem := vcs.NewMemory("main")
	mem.Commit(vcs.MemoryCommit{Hash: "745aa2"})

	cfg := testConfig(t, defaultStages(), nil)
	d := startDaemon(t, cfg, newFakeRunner(), mem)
	srv := newTestServer(t, d)

	resp := postJSON(t, srv.URL+"/api/trigger", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/trigger", map[string]any{"pipeline": "nope"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGitWebhookTriggersMatchingPipeline(t *testing.T) {
	mem := vcs.NewMemory("main")
	mem.Commit(vcs.MemoryCommit{Hash: "90cc01", Author: "bo@example.com"})

	runner := newFakeRunner()
	cfg := testConfig(t, defaultStages(), nil)
	d := startDaemon(t, cfg, runner, mem)
	srv := newTestServer(t, d)

	payload := map[string]any{
		"ref":   "refs/heads/main",
		"after": "90cc01",
		"repository": map[string]any{
			"clone_url": "https://example.com/team/orders.git",
		},
	}
	resp := postJSON(t, srv.URL+"/webhook/git", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Builds []string `json:"builds"`
	}
	decodeBody(t, resp, &out)
	require.Len(t, out.Builds, 1)

	// A push to an untracked branch triggers nothing.
	payload["ref"] = "refs/heads/feature/x"
	resp = postJSON(t, srv.URL+"/webhook/git", payload)
	decodeBody(t, resp, &out)
	assert.Empty(t, out.Builds)

	// A branch deletion (all-zero tip) triggers nothing.
	payload["ref"] = "refs/heads/main"
	payload["after"] = strings.Repeat("0", 40)
	resp = postJSON(t, srv.URL+"/webhook/git", payload)
	decodeBody(t, resp, &out)
	assert.Empty(t, out.Builds)
}

func TestRollbackEndpoint(t *testing.T) {
	mem := vcs.NewMemory("main")
	rev1 := mem.Commit(vcs.MemoryCommit{Hash: "011aa1", Author: "ana@example.com"})

	runner := newFakeRunner()
	cfg := testConfig(t, defaultStages(), nil)
	d := startDaemon(t, cfg, runner, mem)
	srv := newTestServer(t, d)

	promote := func(hash string) {
		t.Helper()
		resp := postJSON(t, srv.URL+"/api/trigger", map[string]any{"pipeline": "orders", "ref": "main", "hash": hash})
		var out struct {
			BuildID string `json:"build_id"`
		}
		decodeBody(t, resp, &out)
		waitFor(t, func() bool {
			summary, ok := d.Projection().GetBuild(out.BuildID)
			return ok && summary.Status == "promoted"
		})
	}

	promote(rev1.Hash)
	rev2 := mem.Commit(vcs.MemoryCommit{Hash: "011aa2", Author: "bo@example.com"})
	promote(rev2.Hash)

	rec, ok := d.Registry().Active("orders")
	require.True(t, ok)
	require.Equal(t, "main.02", rec.Label)

	resp := postJSON(t, srv.URL+"/api/rollback", map[string]string{"pipeline": "orders", "label": "main.01"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	rec, ok = d.Registry().Active("orders")
	require.True(t, ok)
	assert.Equal(t, "main.01", rec.Label)

	// Rolling back never deletes: both artifacts remain fetchable.
	body, err := d.Registry().Fetch(context.Background(), "orders", "main.02")
	require.NoError(t, err)
	body.Close()

	// History reflects the repointed active label.
	histResp, err := http.Get(srv.URL + "/api/history/orders")
	require.NoError(t, err)
	var hist struct {
		Active    string `json:"active"`
		Artifacts []any  `json:"artifacts"`
	}
	decodeBody(t, histResp, &hist)
	assert.Equal(t, "main.01", hist.Active)
	assert.Len(t, hist.Artifacts, 2)
}

func TestDiffEndpoint(t *testing.T) {
	mem := vcs.NewMemory("main")
	rev1 := mem.Commit(vcs.MemoryCommit{Hash: "d1ff01", Author: "ana@example.com", Files: []string{"pkg/orders/api.go"}})

	runner := newFakeRunner()
	cfg := testConfig(t, defaultStages(), nil)
	d := startDaemon(t, cfg, runner, mem)
	srv := newTestServer(t, d)

	promote := func(hash string) {
		t.Helper()
		resp := postJSON(t, srv.URL+"/api/trigger", map[string]any{"pipeline": "orders", "ref": "main", "hash": hash})
		var out struct {
			BuildID string `json:"build_id"`
		}
		decodeBody(t, resp, &out)
		waitFor(t, func() bool {
			summary, ok := d.Projection().GetBuild(out.BuildID)
			return ok && summary.Status == "promoted"
		})
	}

	promote(rev1.Hash)
	rev2 := mem.Commit(vcs.MemoryCommit{Hash: "d1ff02", Author: "bo@example.com", Files: []string{"pkg/orders/store.go"}})
	promote(rev2.Hash)

	resp, err := http.Get(srv.URL + "/api/diff/orders?from=main.01&to=main.02")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cs struct {
		Files   []string `json:"files"`
		Authors []string `json:"authors"`
	}
	decodeBody(t, resp, &cs)
	assert.Equal(t, []string{"bo@example.com"}, cs.Authors)
	assert.Equal(t, []string{"pkg/orders/store.go"}, cs.Files)

	// Labels that were never published cannot be diffed.
	resp, err = http.Get(srv.URL + "/api/diff/orders?from=main.01&to=main.99")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	mem := vcs.NewMemory("main")
	mem.Commit(vcs.MemoryCommit{Hash: "baba01"})

	cfg := testConfig(t, defaultStages(), nil)
	d := startDaemon(t, cfg, newFakeRunner(), mem)
	srv := newTestServer(t, d)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var health struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &health)
	assert.Equal(t, string(StatusRunning), health.Status)
}

func TestRollbackUnknownLabelFails(t *testing.T) {
	mem := vcs.NewMemory("main")
	mem.Commit(vcs.MemoryCommit{Hash: "baba02"})

	cfg := testConfig(t, defaultStages(), nil)
	d := startDaemon(t, cfg, newFakeRunner(), mem)
	srv := newTestServer(t, d)

	resp := postJSON(t, srv.URL+"/api/rollback", map[string]string{"pipeline": "orders", "label": "main.99"})
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}
