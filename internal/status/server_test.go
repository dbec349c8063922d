package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	rtsup "framesched/internal/runtime/supervisor"
	"framesched/internal/storage"
	"framesched/internal/task"
	logx "framesched/pkg/logx"
)

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	board := &Board{}
	h := New(Config{}, board, nil, logx.Nop()).Handler()

	if rec := get(t, h, "/status", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("before publish: %d", rec.Code)
	}

	s := task.NewScheduler()
	s.PushTask(task.NewTask(task.Func(func() {})))
	board.Publish(Report{Session: "abc", Frame: 7, Scheduler: s.Snapshot()})

	rec := get(t, h, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got Report
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Session != "abc" || got.Frame != 7 || len(got.Scheduler.Queued) != 1 {
		t.Fatalf("report = %+v", got)
	}

	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/history", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("history without store = %d", rec.Code)
	}
	if rec := get(t, h, "/debug/pprof/", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled = %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	for i := 1; i <= 3; i++ {
		_ = st.AppendTaskRecord(context.Background(), storage.TaskRecord{Kind: storage.KindTask, ID: uint64(i)})
	}

	h := New(Config{}, &Board{}, st, logx.Nop()).Handler()
	rec := get(t, h, "/history?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history = %d", rec.Code)
	}
	var recs []storage.TaskRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != 3 {
		t.Fatalf("records = %+v", recs)
	}
	if rec := get(t, h, "/history?limit=x", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", rec.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret", Pprof: true}, &Board{}, nil, logx.Nop()).Handler()

	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", rec.Code)
	}
	if rec := get(t, h, "/healthz", map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", rec.Code)
	}
	if rec := get(t, h, "/healthz", map[string]string{"Authorization": "Bearer s3cret"}); rec.Code != http.StatusOK {
		t.Fatalf("bearer token = %d", rec.Code)
	}
	if rec := get(t, h, "/debug/pprof/cmdline?token=s3cret", nil); rec.Code != http.StatusOK {
		t.Fatalf("pprof with query token = %d", rec.Code)
	}
}

func TestServeLoopback(t *testing.T) {
	t.Parallel()
	svc := New(Config{Addr: "127.0.0.1:0"}, &Board{}, nil, logx.Nop())
	sup := rtsup.New(context.Background())
	svc.Start(sup)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sup.Stop(ctx); err != nil {
			t.Errorf("Stop = %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for svc.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never listened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	resp, err := http.Get("http://" + svc.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	svc := New(Config{Addr: "0.0.0.0:0"}, &Board{}, nil, logx.Nop())
	if err := svc.serveOnce(context.Background()); err == nil {
		t.Fatal("expected refusal")
	}
}
