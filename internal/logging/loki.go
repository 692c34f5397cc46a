package logging

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// lokiPushPath is the Grafana Loki HTTP push API endpoint.
const lokiPushPath = "/loki/api/v1/push"

// LokiSink batches structured log lines and POSTs them to a Loki push
// endpoint, mirroring the original's tracing-loki integration as a second
// io.Writer behind the same syncWriter interface the rotating file writer
// implements.
type LokiSink struct {
	url        string
	authHeader string
	labels     map[string]string
	client     *http.Client

	mu      sync.Mutex
	pending [][2]string // [unix-nano-timestamp, line]

	stop chan struct{}
	done chan struct{}
}

// lokiFlushInterval bounds how long a log line can sit unpushed.
const lokiFlushInterval = 5 * time.Second

// NewLokiSink constructs a sink that pushes to url (e.g.
// "https://loki.example.com"). username/password are optional; when both
// are set, requests carry HTTP Basic auth as the original does. A
// background goroutine flushes buffered lines every lokiFlushInterval;
// callers must call Close when shutting down to stop it and flush the
// remainder.
func NewLokiSink(url, username, password string, labels map[string]string) *LokiSink {
	merged := map[string]string{"service": "unifi-protect-backup"}
	for k, v := range labels {
		merged[k] = v
	}

	sink := &LokiSink{
		url:    url,
		labels: merged,
		client: &http.Client{Timeout: 10 * time.Second},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if username != "" && password != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		sink.authHeader = "Basic " + creds
	}
	go sink.runFlushLoop()
	return sink
}

func (s *LokiSink) runFlushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(lokiFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			_ = s.Flush()
			return
		case <-ticker.C:
			_ = s.Flush()
		}
	}
}

// Close stops the background flush loop and pushes any remaining buffered
// lines.
func (s *LokiSink) Close() {
	close(s.stop)
	<-s.done
}

// Write buffers a single JSON log line for the next Flush. It never blocks
// on the network: batching happens out of band via Flush.
func (s *LokiSink) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)

	s.mu.Lock()
	s.pending = append(s.pending, [2]string{strconv.FormatInt(time.Now().UnixNano(), 10), string(bytes.TrimRight(line, "\n"))})
	s.mu.Unlock()
	return len(p), nil
}

// Sync pushes any buffered lines to Loki immediately.
func (s *LokiSink) Sync() error {
	return s.Flush()
}

// Flush pushes any buffered lines to Loki, clearing the buffer regardless
// of outcome so a transient push failure never grows memory unbounded.
func (s *LokiSink) Flush() error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	values := make([][2]string, len(batch))
	copy(values, batch)

	body := map[string]any{
		"streams": []map[string]any{
			{"stream": s.labels, "values": values},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling loki push body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.url+lokiPushPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building loki push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authHeader != "" {
		req.Header.Set("Authorization", s.authHeader)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushing to loki: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("loki push returned status %d", resp.StatusCode)
	}
	return nil
}
