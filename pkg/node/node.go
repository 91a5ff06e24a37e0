// Package node implements the Node/Scheme component of spec.md §4.10:
// the scheme registry and broker registry that own every connection a
// process makes or accepts, and the IdMap<Id, T>-by-reference
// replacement design notes call for in place of the source's
// Broker<->Scheme<->Node raw-pointer cycles.
//
// A [Node] owns an IdMap of [Scheme]s and (indirectly, through each
// Scheme) every [conncore.Broker] it created. A Broker never holds a
// pointer back to its owning Scheme or Node — only a SchemeID — so
// lifetime is purely arena-plus-id, per spec.md §9's "Back-references
// & cycles" design note.
package node

import (
	"context"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/lithammer/shortuuid/v4"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/conncore"
)

// Family is a Scheme's transport family.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
	FamilyUnix
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	case FamilyUnix:
		return "unix"
	default:
		return "unknown"
	}
}

// SockKind is a Scheme's socket kind.
type SockKind int

const (
	SockTCP SockKind = iota
	SockUDP
	SockSCTP
	SockTLS
	SockDTLS
)

func (k SockKind) String() string {
	switch k {
	case SockTCP:
		return "tcp"
	case SockUDP:
		return "udp"
	case SockSCTP:
		return "sctp"
	case SockTLS:
		return "tls"
	case SockDTLS:
		return "dtls"
	default:
		return "unknown"
	}
}

// KeepAliveConfig configures a Scheme's connect/read/write/idle
// deadlines and TCP keep-alive probing, per spec.md §4.9 "Timers".
type KeepAliveConfig struct {
	ConnectTimeout  int64 // milliseconds, 0 = no deadline
	ReadTimeout     int64
	WriteTimeout    int64
	IdleWait        int64
	KeepAliveCount  int
	KeepAliveIdle   int64
	KeepAliveIntvl  int64
	GlobalMemoryCap int64
	BrokerMemoryCap int64
}

// ProxyConfig is a Scheme's proxy configuration, consumed by
// pkg/proxy's SOCKS5/HTTP-CONNECT clients.
type ProxyConfig struct {
	Kind     string // "socks5", "http-connect", or "" for none
	Host     string
	Port     int
	Username string
	Password string
}

// BrokerID and SchemeID are the 64-bit ids spec.md §3 assigns to
// Brokers and Schemes.
type BrokerID uint64
type SchemeID uint64

// SchemeConfig is the configuration a caller supplies to create a
// Scheme, per spec.md §3's Scheme attribute list.
type SchemeConfig struct {
	Family      Family
	SockKind    SockKind
	TargetURL   string
	KeepAlive   KeepAliveConfig
	Proxy       ProxyConfig
	MinRead     int
	MaxWrite    int
	SockPath    string // for FamilyUnix: directory holding the socket file
	SockName    string // for FamilyUnix: file name, suffixed ".sock"
}

// Scheme is a logical endpoint configuration owning a set of Brokers,
// per spec.md §3.
type Scheme struct {
	ID     SchemeID
	Config SchemeConfig

	mu       sync.RWMutex
	brokers  map[BrokerID]*conncore.Broker
	sockPath string // resolved UNIX socket path, set when Family == FamilyUnix
}

func (s *Scheme) addBroker(id BrokerID, b *conncore.Broker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokers[id] = b
}

func (s *Scheme) removeBroker(id BrokerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.brokers, id)
}

// Broker looks up a broker owned by this Scheme.
func (s *Scheme) Broker(id BrokerID) (*conncore.Broker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.brokers[id]
	return b, ok
}

// BrokerIDs returns every broker id currently owned by this Scheme.
func (s *Scheme) BrokerIDs() []BrokerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]BrokerID, 0, len(s.brokers))
	for id := range s.brokers {
		ids = append(ids, id)
	}
	return ids
}

// Node holds the scheme registry and broker registry for one process
// (or logical subsystem), per spec.md §4.10. Its InstanceID is a
// shortuuid, matching the teacher's webhook-delivery-id convention
// (pkg/http/webhooks/server.go), generalized from identifying one
// webhook delivery to identifying one running Node instance across
// restarts (useful as a correlation id in logs and metrics).
type Node struct {
	InstanceID string

	mu          sync.RWMutex
	schemes     map[SchemeID]*Scheme
	nextSchemeID atomic.Uint64
	nextBrokerID atomic.Uint64

	globalMemory *conncore.MemoryCounter

	icmpPrivilege atomic.Value // holds a string; set once at startup via SetICMPPrivilege
}

// New constructs an empty Node. globalMemoryCap bounds the combined
// payload-queue memory of every broker this Node owns (spec.md §3's
// PayloadQueue global cap); 0 means unbounded.
func New(globalMemoryCap int64) *Node {
	return &Node{
		InstanceID:   shortuuid.New(),
		schemes:      make(map[SchemeID]*Scheme),
		globalMemory: conncore.NewMemoryCounter(globalMemoryCap),
	}
}

// GlobalMemory returns the Node-wide payload-queue memory counter
// every Scheme's brokers share.
func (n *Node) GlobalMemory() *conncore.MemoryCounter {
	return n.globalMemory
}

// SetICMPPrivilege records the raw-socket capability pkg/icmpping
// detected at startup, per spec.md §9's "Global/process state" design
// note ("the port configuration is process-wide... specify this as a
// Node-scoped capability"). Kept as a plain string to avoid a
// dependency from pkg/node onto pkg/icmpping.
func (n *Node) SetICMPPrivilege(capability string) {
	n.icmpPrivilege.Store(capability)
}

// ICMPPrivilege reports the capability set by [Node.SetICMPPrivilege],
// or "" if it was never set.
func (n *Node) ICMPPrivilege() string {
	v, _ := n.icmpPrivilege.Load().(string)
	return v
}

// Scheme creates a new Scheme from cfg and registers it, returning its
// id. UNIX-family schemes on an OS that doesn't support AF_UNIX
// listeners (Windows) fail fast, per spec.md §4.10.
func (n *Node) Scheme(cfg SchemeConfig) (SchemeID, error) {
	if cfg.Family == FamilyUnix && runtime.GOOS == "windows" {
		return 0, awherr.New(awherr.KindTransport, 0, "UNIX domain sockets are not supported on windows")
	}

	id := SchemeID(n.nextSchemeID.Add(1))
	s := &Scheme{
		ID:      id,
		Config:  cfg,
		brokers: make(map[BrokerID]*conncore.Broker),
	}
	if cfg.Family == FamilyUnix {
		s.sockPath = resolveSockPath(cfg.SockPath, cfg.SockName)
	}

	n.mu.Lock()
	n.schemes[id] = s
	n.mu.Unlock()

	return id, nil
}

// Has reports whether sid is a currently registered Scheme.
func (n *Node) Has(sid SchemeID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.schemes[sid]
	return ok
}

// SchemeByID returns the Scheme registered under sid.
func (n *Node) SchemeByID(sid SchemeID) (*Scheme, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.schemes[sid]
	return s, ok
}

// Remove tears down every broker owned by sid, then deletes the
// Scheme. For a UNIX-family scheme it removes the socket file if
// present, per spec.md §4.10.
func (n *Node) Remove(sid SchemeID) error {
	n.mu.Lock()
	s, ok := n.schemes[sid]
	if !ok {
		n.mu.Unlock()
		return nil
	}
	delete(n.schemes, sid)
	n.mu.Unlock()

	s.mu.Lock()
	brokers := make([]*conncore.Broker, 0, len(s.brokers))
	for _, b := range s.brokers {
		brokers = append(brokers, b)
	}
	s.brokers = make(map[BrokerID]*conncore.Broker)
	s.mu.Unlock()

	for _, b := range brokers {
		_ = b.Close(nil)
	}

	if s.Config.Family == FamilyUnix && s.sockPath != "" {
		if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
			return awherr.Wrap(awherr.KindTransport, 0, "removing UNIX socket file", err)
		}
	}
	return nil
}

// AddBroker registers b, created for scheme sid, under a new id.
func (n *Node) AddBroker(sid SchemeID, b *conncore.Broker) (BrokerID, error) {
	s, ok := n.SchemeByID(sid)
	if !ok {
		return 0, awherr.New(awherr.KindTransport, 0, "unknown scheme id")
	}
	id := BrokerID(n.nextBrokerID.Add(1))
	s.addBroker(id, b)
	b.OnClosed(func(error) { s.removeBroker(id) })
	return id, nil
}

// Broker looks up a broker by id across every registered Scheme.
func (n *Node) Broker(id BrokerID) (*conncore.Broker, bool) {
	n.mu.RLock()
	schemes := make([]*Scheme, 0, len(n.schemes))
	for _, s := range n.schemes {
		schemes = append(schemes, s)
	}
	n.mu.RUnlock()

	for _, s := range schemes {
		if b, ok := s.Broker(id); ok {
			return b, ok
		}
	}
	return nil, false
}

// Stop closes every broker across every Scheme, then removes every
// Scheme, per spec.md §5 "stop() on the Node closes every broker, then
// shuts down the loop."
func (n *Node) Stop(_ context.Context) error {
	n.mu.RLock()
	ids := make([]SchemeID, 0, len(n.schemes))
	for id := range n.schemes {
		ids = append(ids, id)
	}
	n.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := n.Remove(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func resolveSockPath(dir, name string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	if name == "" {
		name = "awh"
	}
	return dir + "/" + name + ".sock"
}
