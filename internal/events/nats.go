package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/depgraph/internal/model"
)

// Message headers set on every graph event so consumers can route without
// decoding the body.
const (
	HeaderProject = "Depgraph-Project"
	HeaderActor   = "Depgraph-Actor"
)

const (
	subscriberBuffer = 64

	// Per-subscription backlog held by the client while the reader is busy.
	pendingMsgLimit   = 1 << 16
	pendingBytesLimit = 64 << 20
)

func connect(url, name string, opts ...nats.Option) (*nats.Conn, error) {
	all := append([]nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}, opts...)
	nc, err := nats.Connect(url, all...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes events as JSON on their topic subject.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to url. Options are applied after the
// reconnect-forever defaults.
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := connect(url, "depgraph-publisher", opts...)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish sends event on topic. A *model.Event also gets its project and
// actor as message headers.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	if evt, ok := event.(*model.Event); ok {
		msg.Header.Set(HeaderProject, evt.ProjectID)
		if evt.Actor != "" {
			msg.Header.Set(HeaderActor, evt.Actor)
		}
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if !p.conn.IsClosed() {
		_ = p.conn.Flush()
	}
	p.conn.Close()
	return nil
}

// NATSSubscriber feeds subscriptions from one NATS connection.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to url. Options such as reconnect handlers are
// applied after the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, "depgraph-subscriber", opts...)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe accepts NATS wildcards such as "depgraph.discovery.>". The
// subscription is registered with the server before Subscribe returns.
// Delivery blocks while the channel is full, so a slow reader backs up into
// the connection's pending queue instead of losing messages. Anything still
// buffered when cancel is called is discarded.
func (s *NATSSubscriber) Subscribe(subject string) (<-chan []byte, func(), error) {
	out := make(chan []byte, subscriberBuffer)
	stop := make(chan struct{})
	// Callbacks hold the read lock while sending; cancel takes the write
	// lock after closing stop so no send can race with close(out).
	var (
		mu     sync.RWMutex
		closed bool
	)
	deliver := func(m *nats.Msg) {
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			return
		}
		select {
		case out <- m.Data:
		case <-stop:
		}
	}

	sub, err := s.conn.Subscribe(subject, deliver)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	if err := sub.SetPendingLimits(pendingMsgLimit, pendingBytesLimit); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("limiting %s: %w", subject, err)
	}
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("registering %s: %w", subject, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			_ = sub.Unsubscribe()
			mu.Lock()
			defer mu.Unlock()
			closed = true
			for len(out) > 0 {
				<-out
			}
			close(out)
		})
	}
	return out, cancel, nil
}

// LogAsyncErrors reports errors NATS raises outside any call, most notably
// slow consumer drops once a subscription's pending limits are exceeded.
func LogAsyncErrors(logger *slog.Logger) nats.Option {
	return nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
		if sub == nil {
			logger.Error("nats async error", "err", err)
			return
		}
		dropped, _ := sub.Dropped()
		logger.Error("nats subscription error", "subject", sub.Subject, "dropped", dropped, "err", err)
	})
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
