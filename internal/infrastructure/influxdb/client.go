package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/targetd/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize    = 100
	defaultFlushSeconds = 10
)

// History records target selections and device connection changes in one
// InfluxDB bucket, so it is possible to see later which devices developers
// actually deploy to. Writes never block the caller: points are batched and
// failures are reported to the SetOnError callback.
type History struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	closed atomic.Bool

	mu      sync.Mutex
	onError func(error)
}

// Connect checks that the server is up and the history bucket exists, then
// starts the batching write API. ctx bounds the checks only.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*History, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushSeconds := cfg.FlushInterval
	if flushSeconds <= 0 {
		flushSeconds = defaultFlushSeconds
	}

	// #nosec G115 -- both values are positive here
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(time.Duration(flushSeconds)*time.Second/time.Millisecond)))

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	if _, err := client.BucketsAPI().FindBucketByName(ctx, cfg.Bucket); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s in org %s: %w", ErrBucketNotFound, cfg.Bucket, cfg.Org, err)
	}

	h := &History{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}
	go h.forwardErrors(h.writeAPI.Errors())
	return h, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ok, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if !ok {
		return fmt.Errorf("%w: server not ready", ErrUnreachable)
	}
	return nil
}

func (h *History) forwardErrors(errs <-chan error) {
	for err := range errs {
		h.mu.Lock()
		fn := h.onError
		h.mu.Unlock()
		if fn != nil {
			fn(fmt.Errorf("writing to bucket %s: %w", h.bucket, err))
		}
	}
}

// SetOnError sets the callback for asynchronous write failures.
func (h *History) SetOnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = fn
}

// HealthCheck pings the server.
func (h *History) HealthCheck(ctx context.Context) error {
	if h.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return ping(ctx, h.client)
}

// Flush blocks until buffered points are sent. No-op after Close.
func (h *History) Flush() {
	if h.writeAPI == nil || h.closed.Load() {
		return
	}
	h.writeAPI.Flush()
}

// Close sends buffered points and releases the client. Later writes are
// dropped.
func (h *History) Close() error {
	if h.client == nil || !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.writeAPI.Flush()
	h.client.Close()
	return nil
}
