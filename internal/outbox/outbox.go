// internal/outbox/outbox.go

// Package outbox owns the outbound half of the dashboard link: a class-aware
// bounded queue and the single writer that serializes messages onto whatever
// connection is currently attached.
package outbox

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"

	"github.com/standfire/engine-controller/internal/config"
	"github.com/standfire/engine-controller/internal/protocol"
)

const (
	// sensorQueueSize bounds the high-volume SensorValue class. Overflow
	// drops the oldest batch.
	sensorQueueSize = 256
	// controlQueueSize bounds DriverValue and Error messages. While a
	// dashboard is attached these are never dropped; producers block on a
	// full queue. Headless, overflow evicts the oldest entry.
	controlQueueSize = 256
)

// Outbox is the multi-producer outbound message queue. At most one dashboard
// connection is attached at a time; while none is, drained messages are
// discarded and the controller runs headless.
type Outbox struct {
	cfg     *config.Config
	sensor  chan protocol.Message
	control chan protocol.Message

	mu   sync.Mutex
	conn io.Writer
}

// New creates an Outbox for the given configuration.
func New(cfg *config.Config) *Outbox {
	return &Outbox{
		cfg:     cfg,
		sensor:  make(chan protocol.Message, sensorQueueSize),
		control: make(chan protocol.Message, controlQueueSize),
	}
}

// Attach makes w the current dashboard connection. The configuration
// greeting is written synchronously before any queued message can reach w,
// so Config is always the first message on a new connection.
func (o *Outbox) Attach(w io.Writer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := writeMessage(w, protocol.NewConfig(o.cfg)); err != nil {
		return err
	}
	o.conn = w
	return nil
}

// Detach drops the current connection if it is w. Messages drain into the
// void until the next Attach.
func (o *Outbox) Detach(w io.Writer) {
	o.mu.Lock()
	if o.conn == w {
		o.conn = nil
	}
	o.mu.Unlock()
}

// SendSensor enqueues a SensorValue batch, dropping the oldest queued batch
// when the queue is full.
func (o *Outbox) SendSensor(m protocol.Message) {
	for {
		select {
		case o.sensor <- m:
			return
		default:
		}
		// Queue full: evict the oldest entry and retry.
		select {
		case <-o.sensor:
		default:
		}
	}
}

// SendControl enqueues a DriverValue or Error message. While a dashboard is
// attached these are never dropped; the caller blocks on a full queue.
// Headless, the queue drains into the void anyway, so overflow evicts the
// oldest entry instead of wedging a worker.
func (o *Outbox) SendControl(m protocol.Message) {
	for {
		select {
		case o.control <- m:
			return
		default:
		}
		o.mu.Lock()
		attached := o.conn != nil
		o.mu.Unlock()
		if attached {
			o.control <- m
			return
		}
		select {
		case <-o.control:
		default:
		}
	}
}

// Run drains the queues until ctx is cancelled, giving the control class
// priority over sensor batches.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case m := <-o.control:
			o.write(m)
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return
		case m := <-o.control:
			o.write(m)
		case m := <-o.sensor:
			o.write(m)
		}
	}
}

func (o *Outbox) write(m protocol.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn == nil {
		return
	}
	if err := writeMessage(o.conn, m); err != nil {
		log.Printf("outbox: dashboard write failed, detaching: %v", err)
		o.conn = nil
	}
}

func writeMessage(w io.Writer, m protocol.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
