package dispatch

import (
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// poolKey identifies a reusable SSH client. The zero key (unknown server)
// opts out of pooling.
type poolKey struct {
	serverID     int64
	credentialID int64
}

func poolKeyFor(target Target) poolKey {
	if target.Local || target.ServerID == 0 {
		return poolKey{}
	}
	key := poolKey{serverID: target.ServerID}
	if target.Credential != nil {
		key.credentialID = target.Credential.ID
	}
	return key
}

type pooledClient struct {
	client   *ssh.Client
	lastUsed time.Time
}

// clientPool keeps one idle SSH client per (server, credential) pair, expiring
// them after the idle TTL. Runs check a client out exclusively; concurrent
// runs against the same server simply dial extra connections.
type clientPool struct {
	mu      sync.Mutex
	ttl     time.Duration
	clients map[poolKey]*pooledClient
}

func newClientPool(ttl time.Duration) *clientPool {
	return &clientPool{ttl: ttl, clients: make(map[poolKey]*pooledClient)}
}

// get checks out the pooled client for key, expiring it first when idle too
// long. Returns nil when nothing usable is pooled.
func (p *clientPool) get(key poolKey) *ssh.Client {
	if p.ttl <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.clients[key]
	if !ok {
		return nil
	}
	delete(p.clients, key)
	if time.Since(entry.lastUsed) > p.ttl {
		_ = entry.client.Close()
		return nil
	}
	return entry.client
}

// put returns a healthy client to the pool, replacing (and closing) any
// client another run parked there in the meantime.
func (p *clientPool) put(key poolKey, client *ssh.Client) {
	if p.ttl <= 0 || key == (poolKey{}) {
		_ = client.Close()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.clients[key]; ok {
		_ = prev.client.Close()
	}
	p.clients[key] = &pooledClient{client: client, lastUsed: time.Now()}
}

// drop closes a client that proved stale and forgets the pool slot if it
// still holds that same client.
func (p *clientPool) drop(key poolKey, client *ssh.Client) {
	p.mu.Lock()
	if entry, ok := p.clients[key]; ok && entry.client == client {
		delete(p.clients, key)
	}
	p.mu.Unlock()
	_ = client.Close()
}

func (p *clientPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, entry := range p.clients {
		_ = entry.client.Close()
		delete(p.clients, key)
	}
}
