package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/panora77956/v3-sub000/internal/batch"
	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/http/handlers"
	"github.com/panora77956/v3-sub000/internal/http/sse"
	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/infra/credentials"
)

type fakeRunner struct {
	mu      sync.Mutex
	runs    int
	retries int
	block   chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, b *batch.Batch, sink domain.Sink) (batch.Result, error) {
	f.mu.Lock()
	f.runs++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	var paths []string
	for _, job := range b.Jobs {
		for _, c := range job.Items {
			sink.Emit(domain.Card{Record: domain.CardRecord{
				JobID:   job.ID,
				Scene:   job.Scene,
				Copy:    c.Index,
				Account: "A",
				Status:  domain.StatusDownloaded,
			}})
			paths = append(paths, "/out/"+job.ID+".mp4")
		}
	}
	sink.Emit(domain.Completed{Paths: paths})
	return batch.Result{BatchID: b.ID, Paths: paths}, nil
}

func (f *fakeRunner) RetryDownloads(ctx context.Context, b *batch.Batch, sink domain.Sink) (batch.Result, error) {
	f.mu.Lock()
	f.retries++
	f.mu.Unlock()
	return batch.Result{BatchID: b.ID}, nil
}

func newTestServer(t *testing.T, runner *fakeRunner, cfg *infra.Config) (*httptest.Server, *handlers.App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := sse.NewHub(zerolog.Nop())
	go hub.Run(ctx)
	pool, err := credentials.NewPool([]credentials.Credential{
		{Name: "A", Tokens: []string{"tok-a1", "tok-a2"}, Enabled: true},
		{Name: "B", Tokens: []string{"tok-b"}, Enabled: false},
	})
	require.NoError(t, err)
	pool.Keys("A").MarkInvalid("tok-a2")

	app := handlers.NewApp(ctx, runner, batch.NewTracker(), hub, pool, batch.Settings{DefaultModel: "veo_3_1_t2v_fast"}, zerolog.Nop())
	if cfg == nil {
		cfg = &infra.Config{}
	}
	srv := httptest.NewServer(NewRouter(app, cfg, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv, app
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeSnapshot(t *testing.T, resp *http.Response) batch.Snapshot {
	t.Helper()
	var snap batch.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{}, nil)
	resp, err := http.Get(srv.URL + "/v1/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestCreateAndGetBatch(t *testing.T) {
	runner := &fakeRunner{}
	srv, app := newTestServer(t, runner, nil)

	resp := post(t, srv.URL+"/v1/batches", `{"id":"b1","jobs":[{"prompt":"a"},{"prompt":"b","copies":2}]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	snap := decodeSnapshot(t, resp)
	require.Equal(t, "b1", snap.ID)
	require.Len(t, snap.Cards, 3)

	app.Wait()

	got, err := http.Get(srv.URL + "/v1/batches/b1")
	require.NoError(t, err)
	defer got.Body.Close()
	snap = decodeSnapshot(t, got)
	require.False(t, snap.Running)
	require.Len(t, snap.Paths, 3)
	for _, card := range snap.Cards {
		require.Equal(t, domain.StatusDownloaded, card.Status)
	}

	dup := post(t, srv.URL+"/v1/batches", `{"id":"b1","jobs":[{"prompt":"a"}]}`)
	require.Equal(t, http.StatusConflict, dup.StatusCode)
}

func TestCreateBatchRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{}, nil)
	require.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/v1/batches", `{`).StatusCode)
	require.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/v1/batches", `{"jobs":[]}`).StatusCode)
	require.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/v1/batches", `{"jobs":[{"prompt":""}]}`).StatusCode)

	resp, err := http.Get(srv.URL + "/v1/batches/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRetryDownloadsConflictsWhileRunning(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	srv, app := newTestServer(t, runner, nil)

	require.Equal(t, http.StatusAccepted, post(t, srv.URL+"/v1/batches", `{"id":"b2","jobs":[{"prompt":"a"}]}`).StatusCode)
	require.Equal(t, http.StatusConflict, post(t, srv.URL+"/v1/batches/b2/retry-downloads", "").StatusCode)

	close(runner.block)
	app.Wait()

	require.Equal(t, http.StatusAccepted, post(t, srv.URL+"/v1/batches/b2/retry-downloads", "").StatusCode)
	app.Wait()
	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Equal(t, 1, runner.retries)
}

func TestBatchEventsStartWithSnapshot(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	srv, app := newTestServer(t, runner, nil)
	require.Equal(t, http.StatusAccepted, post(t, srv.URL+"/v1/batches", `{"id":"b3","jobs":[{"prompt":"a"}]}`).StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/batches/b3/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 4096)
	var seen strings.Builder
	for !strings.Contains(seen.String(), `"kind":"snapshot"`) {
		n, err := resp.Body.Read(buf)
		require.NoError(t, err)
		seen.Write(buf[:n])
	}
	close(runner.block)
	for !strings.Contains(seen.String(), `"kind":"completed"`) {
		n, err := resp.Body.Read(buf)
		require.NoError(t, err)
		seen.Write(buf[:n])
	}
	app.Wait()
}

func TestAccountsHideTokens(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{}, nil)
	resp, err := http.Get(srv.URL + "/v1/accounts")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Accounts []struct {
			Name      string `json:"name"`
			Enabled   bool   `json:"enabled"`
			Keys      int    `json:"keys"`
			ValidKeys int    `json:"valid_keys"`
		} `json:"accounts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Accounts, 2)
	require.Equal(t, 2, body.Accounts[0].Keys)
	require.Equal(t, 1, body.Accounts[0].ValidKeys)
	require.False(t, body.Accounts[1].Enabled)
}

func TestAPITokenRequired(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{}, &infra.Config{APIToken: "secret"})

	resp, err := http.Get(srv.URL + "/v1/accounts")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsReportsRecordedCounters(t *testing.T) {
	srv, app := newTestServer(t, &fakeRunner{}, nil)

	tel, err := infra.NewTelemetry(&infra.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	app.Metrics = tel
	infra.NewMetrics(tel.MeterProvider()).RecordDownload(context.Background(), "A", 512)

	resp, err := http.Get(srv.URL + "/v1/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Metrics []infra.MetricPoint `json:"metrics"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	var found bool
	for _, p := range body.Metrics {
		if p.Name == "generation.downloads" {
			found = true
			require.Equal(t, int64(1), p.Value)
			require.Equal(t, "A", p.Attributes["account"])
		}
	}
	require.True(t, found, "generation.downloads missing from %+v", body.Metrics)
}
