package main

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"

	"i4.energy/across/lorancp/ncp"
)

var errQueueFull = errors.New("uplink queue is full")

type uplink struct {
	Port int
	Data []byte
}

// Downlink is the last payload the network sent us.
type Downlink struct {
	Port     int
	Data     []byte
	Received time.Time
}

// UplinkQueue is the ncp.Session of the host. HTTP handlers enqueue
// uplinks from their own goroutines; the driver loop sends one per Run.
type UplinkQueue struct {
	logger *slog.Logger
	now    func() time.Time

	heartbeatEvery time.Duration
	heartbeatPort  int

	mu        sync.Mutex
	send      ncp.SendFunc
	connected bool
	pending   []uplink
	capacity  int
	lastBeat  time.Time
	beats     uint32
	sent      int
	failed    int
	downlink  *Downlink
}

func NewUplinkQueue(logger *slog.Logger, capacity int, heartbeat time.Duration, heartbeatPort int) *UplinkQueue {
	return &UplinkQueue{
		logger:         logger,
		now:            time.Now,
		heartbeatEvery: heartbeat,
		heartbeatPort:  heartbeatPort,
		capacity:       capacity,
	}
}

// Enqueue schedules data for transmission on port.
func (q *UplinkQueue) Enqueue(port int, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= q.capacity {
		return errQueueFull
	}
	q.pending = append(q.pending, uplink{Port: port, Data: data})
	return nil
}

func (q *UplinkQueue) Init(send ncp.SendFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.send = send
	return nil
}

func (q *UplinkQueue) Connect() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.connected = true
	// first heartbeat right away
	q.lastBeat = q.now().Add(-q.heartbeatEvery)
	q.logger.Info("session connected")
	return nil
}

func (q *UplinkQueue) Receive(data []byte, port int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.downlink = &Downlink{Port: port, Data: data, Received: q.now()}
	q.logger.Info("downlink", "port", port, "bytes", len(data))
	return nil
}

// Run sends at most one uplink. Heartbeats go ahead of queued payloads.
func (q *UplinkQueue) Run() error {
	next, ok := q.next()
	if !ok {
		return nil
	}

	err := q.send(next.Data, next.Port)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err != nil {
		q.failed++
		return err
	}
	q.sent++
	return nil
}

func (q *UplinkQueue) next() (uplink, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.connected || q.send == nil {
		return uplink{}, false
	}

	if q.heartbeatEvery > 0 {
		if now := q.now(); now.Sub(q.lastBeat) >= q.heartbeatEvery {
			q.lastBeat = now
			q.beats++
			return uplink{Port: q.heartbeatPort, Data: binary.BigEndian.AppendUint32(nil, q.beats)}, true
		}
	}

	if len(q.pending) == 0 {
		return uplink{}, false
	}
	u := q.pending[0]
	q.pending = q.pending[1:]
	return u, true
}

// QueueStatus is a snapshot for the status endpoint.
type QueueStatus struct {
	Connected bool
	Queued    int
	Sent      int
	Failed    int
	Downlink  *Downlink
}

func (q *UplinkQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		Connected: q.connected,
		Queued:    len(q.pending),
		Sent:      q.sent,
		Failed:    q.failed,
		Downlink:  q.downlink,
	}
}

var _ ncp.Session = (*UplinkQueue)(nil)
