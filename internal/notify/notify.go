// Package notify posts JSON summaries to downstream workflow webhooks.
// Delivery is best-effort: failures are logged, never surfaced to the client,
// and never retried.
package notify

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
)

type job struct {
	endpoint string
	payload  interface{}
}

// Notifier delivers webhook payloads through a fixed pool of workers fed by a
// bounded queue. Enqueue never blocks the request path; when the queue is full
// the notification is dropped and logged.
type Notifier struct {
	http *http.Client
	jobs chan job
	wg   sync.WaitGroup
}

// New constructs a notifier with the given pool size and queue capacity.
func New(httpClient *http.Client, workers, queueSize int) *Notifier {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	n := &Notifier{
		http: httpClient,
		jobs: make(chan job, queueSize),
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.work()
	}
	return n
}

// Enqueue schedules a payload for delivery. An empty endpoint is a no-op so
// unconfigured webhooks cost nothing.
func (n *Notifier) Enqueue(endpoint string, payload interface{}) {
	if endpoint == "" {
		return
	}
	select {
	case n.jobs <- job{endpoint: endpoint, payload: payload}:
	default:
		log.Printf("notify: queue full, dropping webhook for %s", endpoint)
	}
}

// Close stops accepting work and waits for in-flight deliveries.
func (n *Notifier) Close() {
	close(n.jobs)
	n.wg.Wait()
}

func (n *Notifier) work() {
	defer n.wg.Done()
	for j := range n.jobs {
		n.post(j)
	}
}

func (n *Notifier) post(j job) {
	body, err := json.Marshal(j.payload)
	if err != nil {
		log.Printf("notify: encode payload for %s: %v", j.endpoint, err)
		return
	}
	req, err := http.NewRequest(http.MethodPost, j.endpoint, bytes.NewReader(body))
	if err != nil {
		log.Printf("notify: build request for %s: %v", j.endpoint, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		log.Printf("notify: post to %s: %v", j.endpoint, err)
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		log.Printf("notify: post to %s: status %d", j.endpoint, resp.StatusCode)
	}
}
