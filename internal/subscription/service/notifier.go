package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"atonsvc/internal/platform/metrics"
	"atonsvc/internal/secom"
	"atonsvc/internal/subscription/models"
	"atonsvc/pkg/platform/sentinel"
)

// Delivery is the observable handle for one queued notification. Ingestion
// never waits on it; tests and diagnostics can.
type Delivery struct {
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newDelivery() *Delivery {
	return &Delivery{done: make(chan struct{})}
}

// Done is closed once the delivery attempt finished, successfully or not.
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Err returns the delivery outcome. Only valid after Done is closed.
func (d *Delivery) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Delivery) complete(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	close(d.done)
}

type taskKind int

const (
	taskPush taskKind = iota
	taskEvent
)

type task struct {
	kind         taskKind
	subscription *models.Request
	content      string
	removed      bool
	event        models.Event
	delivery     *Delivery
}

// Notifier delivers subscriber notifications through a bounded queue and a
// fixed worker pool. A full queue sheds the notification rather than block
// the ingestion path.
type Notifier struct {
	directory Directory
	client    DeliveryClient
	signer    Signer
	queue     chan task
	workers   int
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewNotifier constructs the delivery pool. Workers start when Run is
// called.
func NewNotifier(directory Directory, client DeliveryClient, signer Signer,
	workers, queueSize int, timeout time.Duration) *Notifier {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Notifier{
		directory: directory,
		client:    client,
		signer:    signer,
		queue:     make(chan task, queueSize),
		workers:   workers,
		timeout:   timeout,
		logger:    slog.Default(),
	}
}

// Run processes queued notifications until ctx is cancelled. It drains
// nothing on shutdown; undelivered notifications are dropped.
func (n *Notifier) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < n.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-n.queue:
					t.delivery.complete(n.process(ctx, t))
				}
			}
		}()
	}
	wg.Wait()
}

// EnqueuePush queues a record change push for one subscriber.
func (n *Notifier) EnqueuePush(subscription *models.Request, content string, removed bool) *Delivery {
	return n.enqueue(task{
		kind:         taskPush,
		subscription: subscription,
		content:      content,
		removed:      removed,
	})
}

// EnqueueEvent queues a subscription lifecycle notification.
func (n *Notifier) EnqueueEvent(subscription *models.Request, event models.Event) *Delivery {
	return n.enqueue(task{
		kind:         taskEvent,
		subscription: subscription,
		event:        event,
	})
}

func (n *Notifier) enqueue(t task) *Delivery {
	t.delivery = newDelivery()
	select {
	case n.queue <- t:
	default:
		n.logger.Warn("notification queue full, shedding",
			"client_id", t.subscription.ClientID)
		if n.metrics != nil {
			n.metrics.DeliveryFailures.Inc()
		}
		t.delivery.complete(fmt.Errorf("notification queue full: %w", sentinel.ErrUnavailable))
	}
	return t.delivery
}

func (n *Notifier) process(ctx context.Context, t task) error {
	endpoint, err := n.directory.ResolveEndpoint(ctx, t.subscription.ClientID)
	if err != nil {
		n.logger.Warn("subscriber endpoint unresolvable, skipping",
			"client_id", t.subscription.ClientID, "error", err)
		if n.metrics != nil {
			n.metrics.EndpointUnresolvable.Inc()
		}
		return fmt.Errorf("resolve endpoint for %q: %w", t.subscription.ClientID, err)
	}

	content := t.content
	if t.kind == taskEvent {
		if content, err = lifecycleContent(t.subscription, t.event); err != nil {
			return err
		}
	}

	envelope, err := n.signer.Sign(content)
	if err != nil {
		n.logger.Error("sign notification failed",
			"client_id", t.subscription.ClientID, "error", err)
		return err
	}
	if t.kind == taskPush {
		envelope.Operation = "publication"
		if t.removed {
			envelope.Operation = "removal"
		}
	}

	deliverCtx := ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		deliverCtx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	if err := n.client.Deliver(deliverCtx, endpoint, envelope); err != nil {
		n.logger.Warn("notification delivery failed",
			"client_id", t.subscription.ClientID, "endpoint", endpoint, "error", err)
		if n.metrics != nil {
			n.metrics.DeliveryFailures.Inc()
		}
		return err
	}

	if n.metrics != nil {
		n.metrics.NotificationsSent.Inc()
	}
	n.logger.Debug("notification delivered",
		"client_id", t.subscription.ClientID, "endpoint", endpoint)
	return nil
}

func lifecycleContent(subscription *models.Request, event models.Event) (string, error) {
	body, err := json.Marshal(map[string]string{
		"event":          string(event),
		"subscriptionId": subscription.UUID.String(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal lifecycle event: %w", err)
	}
	return string(body), nil
}

var _ Signer = (*secom.HMACSigner)(nil)
