package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devsight/devsight/internal/activity"
	"github.com/devsight/devsight/internal/config"
	"github.com/devsight/devsight/internal/keygen"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func openTestAgent(t *testing.T, cfg *config.AgentConfig) *Agent {
	t.Helper()
	if cfg == nil {
		cfg = &config.AgentConfig{SyncInterval: time.Minute}
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(t.TempDir(), "agent.db")
	}
	a, err := Open(context.Background(), testLogger(), cfg)
	if err != nil {
		t.Fatalf("open agent: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestOpenSeedsIdentityOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agent.db")
	cfg := &config.AgentConfig{DBPath: path, SyncInterval: time.Minute}

	a, err := Open(context.Background(), testLogger(), cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	first, err := a.Credentials(context.Background())
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if first.DeveloperID == "" || first.DeviceID == "" || first.DeveloperName == "" {
		t.Fatalf("identity not seeded: %+v", first)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A reopen keeps the minted identity instead of minting a new one.
	b, err := Open(context.Background(), testLogger(), cfg)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer b.Close()
	second, err := b.Credentials(context.Background())
	if err != nil {
		t.Fatalf("credentials after reopen: %v", err)
	}
	if second.DeveloperID != first.DeveloperID || second.DeviceID != first.DeviceID {
		t.Fatalf("identity changed across reopen: %+v vs %+v", first, second)
	}
}

func TestEnvSeedsApplyOnlyOnFirstRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agent.db")
	cfg := &config.AgentConfig{
		DBPath:       path,
		SyncInterval: time.Minute,
		CollectorURL: "http://collector:8080",
		APIKey:       "dsk_seeded",
	}

	a, err := Open(context.Background(), testLogger(), cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	creds, err := a.Credentials(context.Background())
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if creds.CollectorURL != "http://collector:8080" || creds.APIKey != "dsk_seeded" {
		t.Fatalf("env seed not applied: %+v", creds)
	}
	if err := a.SetCredentials(context.Background(), "http://other:9090", "dsk_pasted"); err != nil {
		t.Fatalf("set credentials: %v", err)
	}
	_ = a.Close()

	// Persisted values beat env seeds on later opens.
	b, err := Open(context.Background(), testLogger(), cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	creds, err = b.Credentials(context.Background())
	if err != nil {
		t.Fatalf("credentials after reopen: %v", err)
	}
	if creds.CollectorURL != "http://other:9090" || creds.APIKey != "dsk_pasted" {
		t.Fatalf("env seed overwrote persisted values: %+v", creds)
	}
}

func TestRecordClassifiesAndQueues(t *testing.T) {
	t.Parallel()

	a := openTestAgent(t, nil)
	ctx := context.Background()

	if _, err := a.Record(ctx, "", "coding"); err == nil {
		t.Fatalf("empty description accepted")
	}

	id, err := a.Record(ctx, "Debugging in VSCode", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if id <= 0 {
		t.Fatalf("observation id = %d", id)
	}
	if _, err := a.Record(ctx, "Something odd", "not-a-kind"); err != nil {
		t.Fatalf("record unknown kind: %v", err)
	}

	recent, err := a.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(recent))
	}
	// Newest first.
	if recent[0].ActivityKind != activity.KindOther {
		t.Fatalf("unknown kind stored as %q, want %q", recent[0].ActivityKind, activity.KindOther)
	}
	if recent[1].ActivityKind != activity.KindCoding {
		t.Fatalf("classified kind = %q, want %q", recent[1].ActivityKind, activity.KindCoding)
	}
	if recent[1].DeveloperID == "" {
		t.Fatalf("observation missing developer id")
	}
}

func TestStatusSnapshot(t *testing.T) {
	t.Parallel()

	a := openTestAgent(t, nil)
	ctx := context.Background()

	if _, err := a.Record(ctx, "terminal work in bash", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	st := a.Status(ctx)
	if st.Monitoring {
		t.Fatalf("monitoring before StartSync")
	}
	if st.PendingCount != 1 {
		t.Fatalf("pending = %d, want 1", st.PendingCount)
	}
	if st.LastActivity != "terminal work in bash" {
		t.Fatalf("last activity = %q", st.LastActivity)
	}
	if st.DeveloperID == "" || st.DeviceID == "" {
		t.Fatalf("status missing identity: %+v", st)
	}
	if st.DBStatus != "ok" {
		t.Fatalf("db status = %q, want ok", st.DBStatus)
	}
	if st.DBPath == "" {
		t.Fatalf("status missing db path: %+v", st)
	}

	if _, err := json.Marshal(st); err != nil {
		t.Fatalf("status not serializable: %v", err)
	}
}

func TestSetCredentialsWarnsOnOddKey(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	cfg := &config.AgentConfig{
		DBPath:       filepath.Join(t.TempDir(), "agent.db"),
		SyncInterval: time.Minute,
	}
	a, err := Open(context.Background(), logger, cfg)
	if err != nil {
		t.Fatalf("open agent: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	ctx := context.Background()

	const warning = "does not look like a generated key"

	buf.Reset()
	wellFormed := keygen.Prefix + strings.Repeat("a", 64)
	if err := a.SetCredentials(ctx, "http://collector:8080", wellFormed); err != nil {
		t.Fatalf("set credentials: %v", err)
	}
	if strings.Contains(buf.String(), warning) {
		t.Fatalf("well-formed key warned: %s", buf.String())
	}

	if err := a.SetCredentials(ctx, "http://collector:8080", "K2"); err != nil {
		t.Fatalf("set odd credentials: %v", err)
	}
	if !strings.Contains(buf.String(), warning) {
		t.Fatalf("truncated key not warned about: %s", buf.String())
	}

	// The odd key is still persisted; the warning is advisory.
	creds, err := a.Credentials(ctx)
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if creds.APIKey != "K2" {
		t.Fatalf("api key = %q, want K2", creds.APIKey)
	}
}

func TestSyncOnceEndToEnd(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, body)
		n := len(got)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "id": n})
	}))
	t.Cleanup(srv.Close)

	a := openTestAgent(t, nil)
	ctx := context.Background()
	if err := a.SetCredentials(ctx, srv.URL, "dsk_test"); err != nil {
		t.Fatalf("set credentials: %v", err)
	}

	if _, err := a.Record(ctx, "writing the push path", "coding"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := a.Record(ctx, "meeting in zoom", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	res, err := a.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Delivered != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("collector saw %d pushes, want 2", len(got))
	}
	if got[0]["description"] != "writing the push path" {
		t.Fatalf("pushes out of order: %+v", got)
	}
	if got[1]["activity_type"] != "meeting" {
		t.Fatalf("classified kind not pushed: %+v", got[1])
	}

	st := a.Status(ctx)
	if st.ReportsSent != 2 || st.PendingCount != 0 {
		t.Fatalf("status after sync = %+v", st)
	}
}

func TestStartStopSyncToggleMonitoring(t *testing.T) {
	t.Parallel()

	a := openTestAgent(t, &config.AgentConfig{SyncInterval: time.Hour})
	a.StartSync()
	if !a.Status(context.Background()).Monitoring {
		t.Fatalf("monitoring not set after StartSync")
	}
	a.StartSync() // second call is a no-op
	a.StopSync()
	if a.Status(context.Background()).Monitoring {
		t.Fatalf("monitoring still set after StopSync")
	}
}
