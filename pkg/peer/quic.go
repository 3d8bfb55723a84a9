package peer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/quic-go/quic-go"
)

var (
	QErrStreamProtocolViolation = quic.StreamErrorCode(0xFF)
	QErrShutdown                = quic.ApplicationErrorCode(0x3)
)

var (
	MetricQUICFrameInBytes       = []string{"courier", "quic", "frame", "in", "bytes"}
	MetricQUICFrameOutBytes      = []string{"courier", "quic", "frame", "out", "bytes"}
	MetricQUICFrameOutErrorCount = []string{"courier", "quic", "frame", "out", "error", "count"}
	MetricQUICPeerCount          = []string{"courier", "quic", "peer", "count"}
)

// QUICConfig configures a [QUICConn].
type QUICConfig struct {
	// OpenTimeout bounds how long TrySend waits for the outbound stream
	// of a peer to be opened. Default to 5 seconds.
	OpenTimeout time.Duration

	// LogHandler to use for emitting structured logs.
	LogHandler slog.Handler

	// MetricSink to use for emitting metrics.
	MetricSink metrics.MetricSink

	// MetricLabels added to every metric.
	MetricLabels []metrics.Label
}

var _ Conn = (*QUICConn)(nil)

// QUICConn multiplexes peers reached over already established QUIC
// connections. Each direction of a peer uses a single unidirectional
// stream carrying frames written by [AppendFrame].
type QUICConn struct {
	cfg    QUICConfig
	logger *slog.Logger
	msink  metrics.MetricSink
	subs   subscribers

	lk     sync.Mutex
	nextID ID
	peers  map[ID]*quicPeer
	closed bool
	wg     sync.WaitGroup
}

type quicPeer struct {
	id   ID
	conn quic.Connection

	// NB: one writer at a time or frames interleave.
	sendLk sync.Mutex
	send   quic.SendStream
}

func NewQUICConn(cfg QUICConfig) *QUICConn {
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 5 * time.Second
	}

	qc := &QUICConn{
		cfg:    cfg,
		nextID: 1,
		peers:  make(map[ID]*quicPeer),
	}

	if cfg.LogHandler == nil {
		qc.logger = slog.Default()
	} else {
		qc.logger = slog.New(cfg.LogHandler)
	}

	if cfg.MetricSink == nil {
		qc.msink = metrics.Default()
	} else {
		qc.msink = cfg.MetricSink
	}
	return qc
}

// Attach adds an established connection to the set of peers and starts
// reading from it. The returned ID addresses that peer in TrySend and
// in delivered packets.
func (qc *QUICConn) Attach(conn quic.Connection) (ID, error) {
	qc.lk.Lock()
	defer qc.lk.Unlock()
	if qc.closed {
		return 0, ErrClosed
	}

	p := &quicPeer{
		id:   qc.nextID,
		conn: conn,
	}
	qc.nextID++
	qc.peers[p.id] = p
	qc.msink.SetGaugeWithLabels(MetricQUICPeerCount, float32(len(qc.peers)), qc.cfg.MetricLabels)

	qc.logger.Debug("peer attached", "peer_id", p.id, "remote", conn.RemoteAddr())
	qc.wg.Add(1)
	go qc.acceptStreams(p)
	return p.id, nil
}

func (qc *QUICConn) TrySend(to ID, channel uint8, data []byte) bool {
	qc.lk.Lock()
	p, has := qc.peers[to]
	qc.lk.Unlock()
	if !has {
		return false
	}

	mLabels := withLabel(qc.cfg.MetricLabels, "peer_id", strconv.FormatUint(uint64(to), 10))
	buf, err := AppendFrame(nil, channel, data)
	if err != nil {
		qc.logger.Warn("refusing to send frame", "peer_id", to, "error", err)
		qc.msink.IncrCounterWithLabels(MetricQUICFrameOutErrorCount, 1.0,
			withLabel(mLabels, "error", "too_large"))
		return false
	}

	p.sendLk.Lock()
	defer p.sendLk.Unlock()
	if p.send == nil {
		ctx, cancel := context.WithTimeout(p.conn.Context(), qc.cfg.OpenTimeout)
		stream, err := p.conn.OpenUniStreamSync(ctx)
		cancel()
		if err != nil {
			qc.logger.Warn("could not open outbound stream", "peer_id", to, "error", err)
			qc.msink.IncrCounterWithLabels(MetricQUICFrameOutErrorCount, 1.0,
				withLabel(mLabels, "error", "cannot_open_stream"))
			return false
		}
		p.send = stream
	}

	if _, err := p.send.Write(buf); err != nil {
		qc.logger.Warn("error writing to stream", "peer_id", to, "error", err)
		qc.msink.IncrCounterWithLabels(MetricQUICFrameOutErrorCount, 1.0,
			withLabel(mLabels, "error", "stream_write"))
		p.send.CancelWrite(QErrStreamProtocolViolation)
		p.send = nil
		return false
	}

	qc.msink.IncrCounterWithLabels(MetricQUICFrameOutBytes, float32(len(buf)), mLabels)
	return true
}

func (qc *QUICConn) Subscribe(fn func(Packet)) func() {
	return qc.subs.add(fn)
}

func (qc *QUICConn) acceptStreams(p *quicPeer) {
	defer qc.wg.Done()
	ctx := p.conn.Context()
	logger := qc.logger.With("peer_id", p.id, "remote", p.conn.RemoteAddr())

	var readers sync.WaitGroup
	defer readers.Wait()
	for {
		stream, err := p.conn.AcceptUniStream(ctx)
		if err != nil {
			logger.Debug("stopped accepting streams", "error", err)
			qc.detach(p)
			return
		}

		readers.Add(1)
		go func() {
			defer readers.Done()
			qc.readStream(logger, p, stream)
		}()
	}
}

func (qc *QUICConn) readStream(logger *slog.Logger, p *quicPeer, stream quic.ReceiveStream) {
	mLabels := withLabel(qc.cfg.MetricLabels, "peer_id", strconv.FormatUint(uint64(p.id), 10))
	buf := bufio.NewReader(stream)
	for {
		channel, data, err := ReadFrame(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || p.conn.Context().Err() != nil {
				return
			}
			logger.Warn("malformed frame, dropping stream", "error", err)
			stream.CancelRead(QErrStreamProtocolViolation)
			return
		}

		qc.msink.IncrCounterWithLabels(MetricQUICFrameInBytes, float32(len(data)+1), mLabels)
		qc.subs.notify(Packet{
			From:    p.id,
			Channel: channel,
			Data:    data,
		})
	}
}

func (qc *QUICConn) detach(p *quicPeer) {
	qc.lk.Lock()
	defer qc.lk.Unlock()
	if qc.peers[p.id] == p {
		delete(qc.peers, p.id)
		qc.msink.SetGaugeWithLabels(MetricQUICPeerCount, float32(len(qc.peers)), qc.cfg.MetricLabels)
	}
}

// Close closes every attached connection and waits for readers to stop.
func (qc *QUICConn) Close() error {
	qc.lk.Lock()
	if qc.closed {
		qc.lk.Unlock()
		return nil
	}
	qc.closed = true
	peers := make([]*quicPeer, 0, len(qc.peers))
	for _, p := range qc.peers {
		peers = append(peers, p)
	}
	qc.lk.Unlock()

	var errs []error
	for _, p := range peers {
		errs = append(errs, p.conn.CloseWithError(QErrShutdown, "shutdown"))
	}
	qc.wg.Wait()
	return errors.Join(errs...)
}

// withLabel copies base so concurrent callers never share a backing array.
func withLabel(base []metrics.Label, name, value string) []metrics.Label {
	out := make([]metrics.Label, len(base), len(base)+1)
	copy(out, base)
	return append(out, metrics.Label{Name: name, Value: value})
}
