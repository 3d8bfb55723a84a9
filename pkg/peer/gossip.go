package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	leg_metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/memberlist"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrInvalidGossipFrame = errors.New("peer: invalid gossip frame")

// GossipConfig configures a [Gossip] connection.
type GossipConfig struct {
	// Memberlist configuration, its `Delegate` and `Events` fields are
	// overwritten. `Name` MUST be unique in the cluster.
	Memberlist *memberlist.Config

	// LeaveTimeout is how long Close waits for the leave message to
	// propagate. Default to 5 seconds.
	LeaveTimeout time.Duration

	// LogHandler to use for emitting structured logs.
	LogHandler slog.Handler

	// MetricLabels to add to every metrics emitted by memberlist.
	MetricLabels []metrics.Label
}

var _ Conn = (*Gossip)(nil)

// Gossip is a [Conn] whose peers are the members of a memberlist
// cluster. Messages are sent over memberlist's reliable (TCP) channel.
type Gossip struct {
	ml           *memberlist.Memberlist
	logger       *slog.Logger
	localName    string
	leaveTimeout time.Duration
	subs         subscribers

	lk     sync.RWMutex
	nextID ID
	byName map[string]ID
	nodes  map[ID]*memberlist.Node
}

func NewGossip(cfg GossipConfig) (*Gossip, error) {
	if cfg.Memberlist == nil {
		cfg.Memberlist = memberlist.DefaultLANConfig()
	}
	if cfg.LeaveTimeout == 0 {
		cfg.LeaveTimeout = 5 * time.Second
	}

	g := &Gossip{
		localName:    cfg.Memberlist.Name,
		leaveTimeout: cfg.LeaveTimeout,
		nextID:       1,
		byName:       make(map[string]ID),
		nodes:        make(map[ID]*memberlist.Node),
	}

	if cfg.LogHandler != nil {
		g.logger = slog.New(cfg.LogHandler)
		cfg.Memberlist.Logger = slog.NewLogLogger(cfg.LogHandler, slog.LevelDebug)
	} else {
		g.logger = slog.Default()
		cfg.Memberlist.Logger = slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug)
	}
	// memberlist refuses to have both set.
	cfg.Memberlist.LogOutput = nil

	// TODO(raskyld): drop the translation once memberlist moves to
	// hashicorp/go-metrics.
	cfg.Memberlist.MetricLabels = make([]leg_metrics.Label, len(cfg.MetricLabels))
	for i, label := range cfg.MetricLabels {
		cfg.Memberlist.MetricLabels[i] = leg_metrics.Label{
			Name:  label.Name,
			Value: label.Value,
		}
	}

	delegate := &gossipDelegate{g: g}
	cfg.Memberlist.Delegate = delegate
	cfg.Memberlist.Events = delegate

	ml, err := memberlist.Create(cfg.Memberlist)
	if err != nil {
		return nil, fmt.Errorf("peer: could not create memberlist: %w", err)
	}
	g.lk.Lock()
	g.ml = ml
	g.lk.Unlock()
	return g, nil
}

// Join contacts the given members and returns how many were reached.
func (g *Gossip) Join(addrs []string) (int, error) {
	return g.ml.Join(addrs)
}

// LocalName is the name of this node in the cluster.
func (g *Gossip) LocalName() string {
	return g.localName
}

// LocalAddr is the address other nodes can use to join us.
func (g *Gossip) LocalAddr() string {
	return g.ml.LocalNode().Address()
}

// PeerID returns the ID assigned to a cluster member.
func (g *Gossip) PeerID(name string) (ID, bool) {
	g.lk.RLock()
	defer g.lk.RUnlock()
	id, has := g.byName[name]
	if !has {
		return 0, false
	}
	_, alive := g.nodes[id]
	return id, alive
}

func (g *Gossip) TrySend(to ID, channel uint8, data []byte) bool {
	g.lk.RLock()
	node, has := g.nodes[to]
	g.lk.RUnlock()
	if !has {
		return false
	}

	err := g.ml.SendReliable(node, appendGossipFrame(nil, g.localName, channel, data))
	if err != nil {
		g.logger.Warn("failed to send to peer", "peer_id", to, "peer_name", node.Name, "error", err)
		return false
	}
	return true
}

func (g *Gossip) Subscribe(fn func(Packet)) func() {
	return g.subs.add(fn)
}

// Close leaves the cluster and releases memberlist resources.
func (g *Gossip) Close() error {
	leaveErr := g.ml.Leave(g.leaveTimeout)
	return errors.Join(leaveErr, g.ml.Shutdown())
}

// track assigns an ID to a member, or refreshes the node it points to.
func (g *Gossip) track(name string, node *memberlist.Node) ID {
	g.lk.Lock()
	defer g.lk.Unlock()
	id, has := g.byName[name]
	if !has {
		id = g.nextID
		g.nextID++
		g.byName[name] = id
	}
	if node != nil {
		g.nodes[id] = node
	}
	return id
}

// trackSender is track for the source of a message. A message can
// overtake the join notification of its sender, so the node is looked up
// in the member list when we do not know it yet.
func (g *Gossip) trackSender(name string) ID {
	g.lk.RLock()
	ml := g.ml
	id, has := g.byName[name]
	_, alive := g.nodes[id]
	g.lk.RUnlock()
	if has && alive {
		return id
	}

	var node *memberlist.Node
	if ml != nil {
		for _, member := range ml.Members() {
			if member.Name == name {
				node = member
				break
			}
		}
	}
	return g.track(name, node)
}

func (g *Gossip) forget(name string) {
	g.lk.Lock()
	defer g.lk.Unlock()
	if id, has := g.byName[name]; has {
		delete(g.nodes, id)
	}
}

type gossipDelegate struct {
	g *Gossip
}

func (d *gossipDelegate) NodeMeta(int) []byte {
	return nil
}

func (d *gossipDelegate) NotifyMsg(buf []byte) {
	source, channel, data, err := consumeGossipFrame(buf)
	if err != nil {
		d.g.logger.Warn("dropping gossip message", "error", err)
		return
	}

	d.g.subs.notify(Packet{
		From:    d.g.trackSender(source),
		Channel: channel,
		Data:    data,
	})
}

func (d *gossipDelegate) GetBroadcasts(int, int) [][]byte {
	return nil
}

func (d *gossipDelegate) LocalState(bool) []byte {
	return nil
}

func (d *gossipDelegate) MergeRemoteState([]byte, bool) {}

func (d *gossipDelegate) NotifyJoin(node *memberlist.Node) {
	if node.Name == d.g.localName {
		return
	}
	id := d.g.track(node.Name, node)
	d.g.logger.Info("peer joined cluster", "peer_id", id, "peer_name", node.Name, "addr", node.Address())
}

func (d *gossipDelegate) NotifyLeave(node *memberlist.Node) {
	d.g.forget(node.Name)
	d.g.logger.Info("peer left cluster", "peer_name", node.Name)
}

func (d *gossipDelegate) NotifyUpdate(node *memberlist.Node) {
	if node.Name == d.g.localName {
		return
	}
	d.g.track(node.Name, node)
	d.g.logger.Debug("peer updated", "peer_name", node.Name)
}

const (
	gossipFieldSource  protowire.Number = 1
	gossipFieldChannel protowire.Number = 2
	gossipFieldData    protowire.Number = 3
)

func appendGossipFrame(buf []byte, source string, channel uint8, data []byte) []byte {
	buf = protowire.AppendTag(buf, gossipFieldSource, protowire.BytesType)
	buf = protowire.AppendString(buf, source)
	buf = protowire.AppendTag(buf, gossipFieldChannel, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(channel))
	buf = protowire.AppendTag(buf, gossipFieldData, protowire.BytesType)
	return protowire.AppendBytes(buf, data)
}

func consumeGossipFrame(buf []byte) (source string, channel uint8, data []byte, err error) {
	var hasSource, hasChannel bool
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return "", 0, nil, fmt.Errorf("%w: %w", ErrInvalidGossipFrame, protowire.ParseError(n))
		}
		buf = buf[n:]

		switch {
		case num == gossipFieldSource && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return "", 0, nil, fmt.Errorf("%w: %w", ErrInvalidGossipFrame, protowire.ParseError(n))
			}
			source, hasSource = v, true
			buf = buf[n:]
		case num == gossipFieldChannel && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return "", 0, nil, fmt.Errorf("%w: %w", ErrInvalidGossipFrame, protowire.ParseError(n))
			}
			if v > 0xFF {
				return "", 0, nil, fmt.Errorf("%w: channel %d out of range", ErrInvalidGossipFrame, v)
			}
			channel, hasChannel = uint8(v), true
			buf = buf[n:]
		case num == gossipFieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return "", 0, nil, fmt.Errorf("%w: %w", ErrInvalidGossipFrame, protowire.ParseError(n))
			}
			// memberlist reuses buf after NotifyMsg returns.
			data = make([]byte, len(v))
			copy(data, v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return "", 0, nil, fmt.Errorf("%w: %w", ErrInvalidGossipFrame, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}

	if !hasSource || source == "" || !hasChannel {
		return "", 0, nil, fmt.Errorf("%w: missing source or channel", ErrInvalidGossipFrame)
	}
	return source, channel, data, nil
}
