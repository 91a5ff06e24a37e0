package conncore

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/metrics"
)

// Protocol identifies which wire protocol owns a Broker's connection,
// per spec.md §4.9's broker table.
type Protocol int

const (
	ProtocolHTTP1 Protocol = iota
	ProtocolHTTP2
	ProtocolWebSocket
)

// Decoder consumes bytes read off the transport and reports how many it
// consumed, mirroring the needs-more-data convention used by
// pkg/wsframe.DecodeHeader: a Decoder that cannot make progress with
// the bytes given returns (0, nil) and waits for more to arrive on the
// next Read. A Decoder may instead keep partial input itself and report
// it consumed, as pkg/http1.Parser.Feed does.
type Decoder interface {
	Feed(buf []byte) (consumed int, err error)
}

// Transport is the minimal connection surface Broker drives; *net.TCPConn,
// *tls.Conn, and the http2engine/wsframe adapters all satisfy it.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
}

// Broker owns one connection's read and write loops, per spec.md §4.9:
// a single goroutine reads and feeds a Decoder, a single goroutine
// drains a PayloadQueue into the transport, and Send/Close are the only
// thread-safe entry points another goroutine may call. It is grounded
// on the teacher's pkg/websocket/conn.go goroutine-per-direction
// ownership model, generalized across HTTP/1.1, HTTP/2, and WebSocket
// transports via the Decoder and Protocol abstractions.
type Broker struct {
	ID       uint64
	SchemeID uint64
	Protocol Protocol

	conn    Transport
	queue   *PayloadQueue
	decoder Decoder
	logger  *slog.Logger

	readBufSize int

	closed   atomic.Bool
	closeErr error
	closeMu  sync.Mutex
	closing  chan struct{} // closed by Close to unblock the write loop
	done     chan struct{} // closed once both loops have exited

	onClosed func(err error)
}

// NewBroker constructs a Broker for conn, decoding inbound bytes with
// decoder and draining outbound bytes from queue. readBufSize of 0
// defaults to 32KiB.
func NewBroker(id, schemeID uint64, proto Protocol, conn Transport, decoder Decoder, queue *PayloadQueue, logger *slog.Logger, readBufSize int) *Broker {
	if readBufSize <= 0 {
		readBufSize = 32 * 1024
	}
	return &Broker{
		ID:          id,
		SchemeID:    schemeID,
		Protocol:    proto,
		conn:        conn,
		queue:       queue,
		decoder:     decoder,
		logger:      logger,
		readBufSize: readBufSize,
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// OnClosed installs a callback invoked exactly once when both loops
// have exited, with the error (if any) that triggered the shutdown.
func (b *Broker) OnClosed(fn func(err error)) {
	b.onClosed = fn
}

// Run starts the read and write loops and blocks until both exit, per
// spec.md §4.9. Cancel ctx to request a shutdown.
func (b *Broker) Run(ctx context.Context) {
	metrics.IncrementBrokerEvent(b.logger, time.Now(), b.SchemeID, b.ID, "open")

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		b.readLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		b.writeLoop(ctx)
	}()

	wg.Wait()
	close(b.done)

	metrics.IncrementBrokerEvent(b.logger, time.Now(), b.SchemeID, b.ID, "close")

	if b.onClosed != nil {
		b.onClosed(b.closeErr)
	}
}

// Done returns a channel closed once Run has returned.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

// Send enqueues buf for the write loop. It returns false if the queue
// is over capacity (backpressure) or the broker is already closed.
func (b *Broker) Send(buf []byte) bool {
	if b.closed.Load() {
		return false
	}
	return b.queue.Enqueue(buf)
}

// Close tears down the broker's transport, unblocking both loops.
func (b *Broker) Close(cause error) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.closeMu.Lock()
	b.closeErr = cause
	b.closeMu.Unlock()

	close(b.closing)
	b.queue.Drain()
	return b.conn.Close()
}

func (b *Broker) readLoop(ctx context.Context) {
	buf := make([]byte, b.readBufSize)
	var pending []byte

	for {
		if ctx.Err() != nil {
			b.Close(ctx.Err())
			return
		}

		n, err := b.conn.Read(buf)
		if n > 0 {
			metrics.RecordBrokerBytes(time.Now(), b.SchemeID, b.ID, "read", n)
			pending = append(pending, buf[:n]...)

			for len(pending) > 0 {
				consumed, decErr := b.decoder.Feed(pending)
				if decErr != nil {
					b.logger.Error("broker decode error", "broker_id", b.ID, "error", decErr)
					b.Close(decErr)
					return
				}
				if consumed == 0 {
					break
				}
				pending = pending[consumed:]
			}
		}
		if err != nil {
			if err != io.EOF {
				b.logger.Debug("broker read loop exiting", "broker_id", b.ID, "error", err)
			}
			b.Close(err)
			return
		}
	}
}

func (b *Broker) writeLoop(ctx context.Context) {
	for {
		select {
		case <-b.closing:
			return
		case <-ctx.Done():
			b.Close(ctx.Err())
			return
		case <-b.queue.Notify():
		}

		for {
			head, ok := b.queue.Head()
			if !ok {
				break
			}
			n, err := b.conn.Write(head)
			if n > 0 {
				metrics.RecordBrokerBytes(time.Now(), b.SchemeID, b.ID, "write", n)
				b.queue.Advance(n)
			}
			if err != nil {
				b.logger.Debug("broker write loop exiting", "broker_id", b.ID, "error", err)
				b.Close(awherr.New(awherr.KindTransport, 0, "broker write failed"))
				return
			}
			if b.closed.Load() {
				return
			}
		}
	}
}
