package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"questdeck/internal/config"
	"questdeck/internal/domain"
	"questdeck/internal/engine"
)

const (
	defaultSinkInterval = 2 * time.Second
	defaultSinkTimeout  = 5 * time.Second
	defaultSinkBatch    = 100
)

// factDispatcher forwards audit facts to the configured HTTP sinks, one
// cursor per sink. Delivery stops at the first failure so a flaky sink sees
// every fact again in order on the next tick.
type factDispatcher struct {
	engine  engine.Engine
	sinks   []config.SinkConfig
	client  *http.Client
	mu      sync.Mutex
	cursors map[int]int64
}

// StartFactDispatcher begins background delivery when sinks are configured.
func StartFactDispatcher(e engine.Engine) {
	if e.Config == nil || len(e.Config.Facts.Sinks) == 0 {
		return
	}
	d := &factDispatcher{
		engine:  e,
		sinks:   e.Config.Facts.Sinks,
		client:  &http.Client{Timeout: defaultSinkTimeout},
		cursors: make(map[int]int64),
	}
	go d.run()
}

func (d *factDispatcher) run() {
	ticker := time.NewTicker(defaultSinkInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *factDispatcher) dispatchAll() {
	for i, sink := range d.sinks {
		if sink.Enabled != nil && !*sink.Enabled {
			continue
		}
		if strings.TrimSpace(sink.URL) == "" {
			continue
		}
		d.dispatchSink(i, sink)
	}
}

func (d *factDispatcher) dispatchSink(idx int, sink config.SinkConfig) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	events, err := d.engine.Repo.EventsAfter(ctx, defaultSinkBatch, cursor, "")
	if err != nil {
		log.Printf("facts: fetch events failed: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}
	filter := newEventFilter(sink.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, sink, evt); err != nil {
			log.Printf("facts: deliver to %s failed: %v", sink.URL, err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *factDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	// New sinks start at the tail; historical facts are not replayed.
	cur, err := d.engine.Repo.LatestEventID(context.Background(), "")
	if err != nil {
		log.Printf("facts: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *factDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type factEvent struct {
	ID            int64           `json:"id"`
	Type          string          `json:"type"`
	OrgID         string          `json:"org_id,omitempty"`
	EntityKind    string          `json:"entity_kind"`
	EntityID      string          `json:"entity_id,omitempty"`
	ActorID       string          `json:"actor_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	TS            string          `json:"ts"`
	Payload       json.RawMessage `json:"payload"`
}

func (d *factDispatcher) postEvent(ctx context.Context, sink config.SinkConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage([]byte(evt.Payload))
	}
	body := factEvent{
		ID:            evt.ID,
		Type:          evt.Type,
		OrgID:         evt.OrgID,
		EntityKind:    evt.EntityKind,
		EntityID:      evt.EntityID,
		ActorID:       evt.ActorID,
		CorrelationID: evt.CorrelationID,
		TS:            evt.TS,
		Payload:       payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultSinkTimeout
	if sink.TimeoutSeconds > 0 {
		timeout = time.Duration(sink.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sink.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Questdeck-Event", evt.Type)
	req.Header.Set("X-Questdeck-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(sink.Secret) != "" {
		req.Header.Set("X-Questdeck-Secret", sink.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
