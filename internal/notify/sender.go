package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HTTPSender posts events to the platform notification service.
type HTTPSender struct {
	url    string
	client *http.Client
}

// NewHTTPSender creates a sender posting to the given endpoint.
func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSender) Send(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification service returned %d", resp.StatusCode)
	}
	return nil
}

// MultiSender fans an event out to several senders. Delivery is
// best-effort per sender; the first error is returned after all have
// been attempted.
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a sender that delivers to all of the given senders.
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

func (s *MultiSender) Send(ctx context.Context, event *Event) error {
	var first error
	for _, sender := range s.senders {
		if err := sender.Send(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemorySender records events in memory. Used in development mode and
// in tests that assert on emitted notifications.
type MemorySender struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemorySender creates an empty in-memory sender.
func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (s *MemorySender) Send(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

// Events returns a copy of everything sent so far.
func (s *MemorySender) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// AwaitOfType polls until at least n events of the given type have been
// recorded or the timeout passes, then returns whatever matched.
// Delivery is asynchronous, so tests use this instead of OfType.
func (s *MemorySender) AwaitOfType(t EventType, n int, timeout time.Duration) []*Event {
	deadline := time.Now().Add(timeout)
	for {
		got := s.OfType(t)
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// OfType returns sent events matching the given type.
func (s *MemorySender) OfType(t EventType) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
