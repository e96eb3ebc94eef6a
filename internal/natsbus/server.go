package natsbus

import (
	"fmt"
	"os"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/scbe-labs/arachne/internal/config"
)

// Bus is the crawl event fabric: an embedded NATS server plus the publish
// and subscribe bookkeeping (per-agent sequences, delivery counters). One
// instance per crawl session; inject it, never share it globally.
type Bus struct {
	server *natsserver.Server
	conn   *nats.Conn
	cfg    config.NATSConfig

	pendingMsgs  int
	pendingBytes int

	mu            sync.Mutex
	seqs          map[string]uint64
	subs          map[*Subscription]struct{}
	published     uint64
	delivered     uint64
	handlerErrors uint64
	perChannel    map[string]uint64
}

func New(cfg config.NATSConfig) (*Bus, error) {
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create nats data dir: %w", err)
		}
	}

	opts := &natsserver.Options{
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.DataDir,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("nats server not ready")
	}

	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	pendingMsgs := cfg.PendingMsgs
	if pendingMsgs <= 0 {
		pendingMsgs = 4096
	}
	pendingBytes := cfg.PendingBytes
	if pendingBytes <= 0 {
		pendingBytes = 8 << 20
	}

	return &Bus{
		server:       ns,
		conn:         conn,
		cfg:          cfg,
		pendingMsgs:  pendingMsgs,
		pendingBytes: pendingBytes,
		seqs:         make(map[string]uint64),
		subs:         make(map[*Subscription]struct{}),
		perChannel:   make(map[string]uint64),
	}, nil
}

// ClientURL is the address external workers and companion tools connect to.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

func (b *Bus) Port() int {
	return b.cfg.Port
}

// Flush waits until the server has processed everything published so far.
func (b *Bus) Flush() error {
	return b.conn.Flush()
}

func (b *Bus) Close() {
	b.conn.Close()
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
