package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/targetd/internal/infrastructure/config"
)

// fakeServer answers /ping and the bucket lookup, and records line protocol
// posted to /api/v2/write.
type fakeServer struct {
	*httptest.Server

	mu        sync.Mutex
	bodies    []string
	query     string
	rejectAll bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/buckets":
			w.Header().Set("Content-Type", "application/json")
			if r.URL.Query().Get("name") == "targets" {
				io.WriteString(w, `{"buckets":[{"id":"b1","name":"targets","retentionRules":[]}]}`) //nolint:errcheck // Test server
				return
			}
			io.WriteString(w, `{"buckets":[]}`) //nolint:errcheck // Test server
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.rejectAll {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"code":"invalid","message":"partial write"}`) //nolint:errcheck // Test server
				return
			}
			f.bodies = append(f.bodies, string(body))
			f.query = r.URL.RawQuery
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.bodies, "\n")
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "targetd-test-token",
		Org:           "targetd",
		Bucket:        "targets",
		BatchSize:     10,
		FlushInterval: 60,
	}
}

func connect(t *testing.T, cfg config.InfluxDBConfig) *History {
	t.Helper()
	h, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestConnect_Errors(t *testing.T) {
	srv := newFakeServer(t)

	disabled := testConfig(srv.URL)
	disabled.Enabled = false
	missingBucket := testConfig(srv.URL)
	missingBucket.Bucket = "devices"

	tests := []struct {
		name string
		cfg  config.InfluxDBConfig
		want error
	}{
		{"disabled", disabled, ErrDisabled},
		{"unreachable", testConfig("http://127.0.0.1:1"), ErrUnreachable},
		{"missing bucket", missingBucket, ErrBucketNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Connect(context.Background(), tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("Connect() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHistory_HealthCheck(t *testing.T) {
	h := connect(t, testConfig(newFakeServer(t).URL))

	if err := h.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	h.Close()
	if err := h.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrClosed", err)
	}
}

func TestHistory_ReportsWriteFailures(t *testing.T) {
	srv := newFakeServer(t)
	srv.mu.Lock()
	srv.rejectAll = true
	srv.mu.Unlock()
	h := connect(t, testConfig(srv.URL))

	errs := make(chan error, 1)
	h.SetOnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	h.WriteDeviceConnection("R58M", "physical", true, time.Now())
	h.Flush()

	select {
	case err := <-errs:
		if !strings.Contains(err.Error(), "bucket targets") {
			t.Errorf("error = %v, want the bucket named", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no write failure reported")
	}
}

func TestHistory_WritesOnFlush(t *testing.T) {
	srv := newFakeServer(t)
	client := connect(t, testConfig(srv.URL))

	at := time.Unix(1_700_000_000, 0)
	client.WriteTargetSelection("app", true, []string{"R58M", "emulator-5554"}, at)
	client.WriteDeviceConnection("R58M", "physical", true, at)
	client.Flush()

	got := srv.written()
	for _, want := range []string{
		"target_selection,mode=dialog,run_config=app count=2i,primary=\"R58M\"",
		"device_connection,device_id=R58M,kind=physical online=true",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("written line protocol missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(srv.query, "bucket=targets") {
		t.Errorf("write query = %q, want bucket=targets", srv.query)
	}
}

func TestHistory_NoWritesAfterClose(t *testing.T) {
	srv := newFakeServer(t)
	client := connect(t, testConfig(srv.URL))
	client.Close()

	client.WriteDeviceConnection("R58M", "physical", false, time.Now())
	client.Flush()

	if got := srv.written(); got != "" {
		t.Errorf("wrote after Close: %q", got)
	}
}

func TestClose_Nil(t *testing.T) {
	h := &History{}
	if err := h.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

func TestNewSelectionPoint(t *testing.T) {
	at := time.Unix(0, 42)
	tests := []struct {
		name      string
		multi     bool
		targetIDs []string
		want      string
	}{
		{"dropdown", false, []string{"R58M"}, `target_selection,mode=dropdown,run_config=app count=1i,primary="R58M" 42`},
		{"nothing selected", false, nil, `target_selection,mode=dropdown,run_config=app count=0i 42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.TrimSpace(write.PointToLineProtocol(newSelectionPoint("app", tt.multi, tt.targetIDs, at), time.Nanosecond))
			if got != tt.want {
				t.Errorf("line protocol = %q, want %q", got, tt.want)
			}
		})
	}
}
