package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/api"
	"github.com/alfredjeanlab/depgraph/internal/events"
	"github.com/alfredjeanlab/depgraph/internal/model"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeAdder records requests and fails the ones listed in reject. The first
// outages calls fail as if the store were down.
type fakeAdder struct {
	mu      sync.Mutex
	reqs    []*api.AddEdgeRequest
	reject  map[string]error
	outages int
}

func (f *fakeAdder) AddEdge(_ context.Context, req *api.AddEdgeRequest) (*model.Edge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.outages > 0 {
		f.outages--
		return nil, &model.StoreError{Op: "insert edge", Err: errors.New("connection refused")}
	}
	if err := f.reject[req.From+">"+req.To]; err != nil {
		return nil, err
	}
	return &model.Edge{From: req.From, To: req.To, Kind: req.Kind, ProjectID: "p1", CreatedBy: req.CreatedBy}, nil
}

func (f *fakeAdder) requests() []*api.AddEdgeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*api.AddEdgeRequest(nil), f.reqs...)
}

// chanSubscriber hands out a test-controlled channel.
type chanSubscriber struct {
	ch       chan []byte
	subject  string
	canceled bool
}

func (s *chanSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	s.subject = topic
	return s.ch, func() { s.canceled = true }, nil
}

func (s *chanSubscriber) Close() error { return nil }

func TestIntake_Apply(t *testing.T) {
	adder := &fakeAdder{}
	roster := NewRoster()
	in := NewIntake(adder, roster, quietLogger)

	edge, err := in.Apply(context.Background(), events.DiscoveryRequest{From: "t1", To: "t2", AgentID: "agent-1", Note: "shared schema"})
	if err != nil {
		t.Fatal(err)
	}
	if edge.Kind != model.EdgeDiscovered {
		t.Fatalf("edge = %+v", edge)
	}
	req := adder.requests()[0]
	if req.Kind != model.EdgeDiscovered || req.CreatedBy != "agent-1" || req.Note != "shared schema" {
		t.Fatalf("request = %+v", req)
	}
	if e := roster.Entries(0); len(e) != 1 || e[0].Accepted != 1 || e[0].LastProject != "p1" {
		t.Fatalf("roster = %+v", e)
	}
}

func TestIntake_ApplyErrors(t *testing.T) {
	adder := &fakeAdder{reject: map[string]error{"t3>t1": &model.CycleError{From: "t3", To: "t1", Path: []string{"t3", "t1", "t2", "t3"}}}}
	roster := NewRoster()
	in := NewIntake(adder, roster, quietLogger)

	if _, err := in.Apply(context.Background(), events.DiscoveryRequest{From: "t1", AgentID: "agent-1"}); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("missing to = %v", err)
	}
	if len(adder.requests()) != 0 {
		t.Fatal("invalid request reached the engine")
	}

	if _, err := in.Apply(context.Background(), events.DiscoveryRequest{From: "t3", To: "t1", AgentID: "agent-1"}); !errors.Is(err, model.ErrWouldCreateCycle) {
		t.Fatalf("cycle = %v", err)
	}
	if e := roster.Entries(0); len(e) != 1 || e[0].Rejected != 1 {
		t.Fatalf("roster = %+v", e)
	}
}

func TestIntake_ApplyRetriesStoreOutage(t *testing.T) {
	for _, tc := range []struct {
		name      string
		outages   int
		wantCalls int
		wantErr   bool
		accepted  int64
		failed    int64
	}{
		{"RecoversAfterTwoFailures", 2, 3, false, 1, 0},
		{"GivesUp", 10, 4, true, 0, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			adder := &fakeAdder{outages: tc.outages}
			roster := NewRoster()
			in := NewIntake(adder, roster, quietLogger)
			in.attempts = 4
			in.backoff = time.Millisecond

			_, err := in.Apply(context.Background(), events.DiscoveryRequest{From: "t1", To: "t2", AgentID: "agent-1"})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v", err)
			}
			if tc.wantErr && !model.Retryable(err) {
				t.Fatalf("final error lost its class: %v", err)
			}
			if n := len(adder.requests()); n != tc.wantCalls {
				t.Fatalf("insert attempts = %d, want %d", n, tc.wantCalls)
			}
			e := roster.Entries(0)
			if len(e) != 1 || e[0].Accepted != tc.accepted || e[0].Failed != tc.failed || e[0].Rejected != 0 {
				t.Fatalf("roster = %+v", e)
			}
		})
	}
}

func TestIntake_ApplyStopsRetryingOnCancel(t *testing.T) {
	adder := &fakeAdder{outages: 100}
	in := NewIntake(adder, nil, quietLogger)
	in.backoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := in.Apply(ctx, events.DiscoveryRequest{From: "t1", To: "t2", AgentID: "agent-1"})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !model.Retryable(err) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Apply kept waiting after cancel")
	}
	if n := len(adder.requests()); n != 1 {
		t.Fatalf("insert attempts = %d", n)
	}
}

func TestIntake_Run(t *testing.T) {
	adder := &fakeAdder{reject: map[string]error{"t2>t1": model.ErrDuplicateEdge}}
	sub := &chanSubscriber{ch: make(chan []byte, 4)}
	in := NewIntake(adder, nil, quietLogger)

	msg := func(from, to string) []byte {
		b, _ := json.Marshal(events.DiscoveryRequest{From: from, To: to, AgentID: "agent-1"})
		return b
	}
	sub.ch <- msg("t1", "t2")
	sub.ch <- []byte("{not json")
	sub.ch <- msg("t2", "t1")
	sub.ch <- msg("t1", "t3")
	close(sub.ch)

	if err := in.Run(context.Background(), sub, "depgraph.discovery.>"); err != nil {
		t.Fatal(err)
	}
	if sub.subject != "depgraph.discovery.>" || !sub.canceled {
		t.Fatalf("subject=%q canceled=%v", sub.subject, sub.canceled)
	}
	// The malformed payload is dropped; the rejection is not retried.
	if n := len(adder.requests()); n != 3 {
		t.Fatalf("expected 3 insert attempts, got %d", n)
	}
}

func TestIntake_RunStopsOnCancel(t *testing.T) {
	sub := &chanSubscriber{ch: make(chan []byte)}
	in := NewIntake(&fakeAdder{}, nil, quietLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx, sub, "depgraph.discovery.>") }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
