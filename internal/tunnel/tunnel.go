// Package tunnel implements the SSH local port-forward DBCrust opens when a
// resolved connection matches one of the configured ssh_tunnel_patterns
// (see the design notes). Grounded on zmb3-teleport's use of golang.org/x/crypto/ssh
// for its own SSH-based reverse tunnels (api/client/tunneldialer.go): the
// same ssh.ClientConfig + ssh.Client.Dial shape, applied to a local forward
// instead of a reverse one.
package tunnel

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/dbcrust/dbcrust/internal/backenderr"
)

// Config describes the SSH jump host and the remote endpoint to forward to.
type Config struct {
	SSHHost    string
	SSHPort    string
	SSHUser    string
	AuthMethod []ssh.AuthMethod
	HostKey    ssh.HostKeyCallback

	RemoteHost string
	RemotePort string

	DialTimeout time.Duration
}

// Tunnel is a live local port-forward: connections accepted on LocalAddr are
// piped through the SSH connection to Config.RemoteHost:RemotePort.
//
// Tunnels are shared by reference count: the last session to drop a
// tunnel closes it. Acquire increments the count, Release
// decrements it and closes the underlying SSH connection and listener only
// when it reaches zero.
type Tunnel struct {
	LocalAddr string

	mu       sync.Mutex
	refCount int
	client   *ssh.Client
	listener net.Listener
	closed   bool
}

// Open dials the SSH host, binds an ephemeral local port, and starts
// accepting forwarded connections in the background. The returned Tunnel has
// a reference count of 1; callers done with it must call Release.
func Open(cfg Config) (*Tunnel, error) {
	sshAddr := net.JoinHostPort(cfg.SSHHost, cfg.SSHPort)
	clientCfg := &ssh.ClientConfig{
		User:            cfg.SSHUser,
		Auth:            cfg.AuthMethod,
		HostKeyCallback: cfg.HostKey,
		Timeout:         cfg.DialTimeout,
	}
	client, err := ssh.Dial("tcp", sshAddr, clientCfg)
	if err != nil {
		return nil, backenderr.Tunnelf(err, "dial ssh host %s", sshAddr)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, backenderr.Tunnelf(err, "bind local forward port")
	}

	t := &Tunnel{
		LocalAddr: listener.Addr().String(),
		refCount:  1,
		client:    client,
		listener:  listener,
	}
	go t.acceptLoop(cfg.RemoteHost, cfg.RemotePort)
	return t, nil
}

func (t *Tunnel) acceptLoop(remoteHost, remotePort string) {
	remoteAddr := net.JoinHostPort(remoteHost, remotePort)
	for {
		local, err := t.listener.Accept()
		if err != nil {
			return
		}
		go t.forward(local, remoteAddr)
	}
}

func (t *Tunnel) forward(local net.Conn, remoteAddr string) {
	defer local.Close()
	remote, err := t.client.Dial("tcp", remoteAddr)
	if err != nil {
		return
	}
	defer remote.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(remote, local)
	}()
	go func() {
		defer wg.Done()
		io.Copy(local, remote)
	}()
	wg.Wait()
}

// Acquire increments the tunnel's reference count; call once per session
// that begins sharing an already-open tunnel (matched by the same
// (sshHost, sshPort, remoteHost, remotePort) tuple in the resolver's tunnel pool).
func (t *Tunnel) Acquire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refCount++
}

// Release decrements the reference count and, once it reaches zero, closes
// the listener and the SSH connection.
func (t *Tunnel) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refCount--
	if t.refCount > 0 || t.closed {
		return nil
	}
	t.closed = true
	lerr := t.listener.Close()
	cerr := t.client.Close()
	if lerr != nil {
		return backenderr.Tunnelf(lerr, "close tunnel listener")
	}
	if cerr != nil {
		return backenderr.Tunnelf(cerr, "close tunnel ssh connection")
	}
	return nil
}

// Key identifies a tunnel for pool deduplication: two resolutions that would
// open the same jump-host-to-destination path share one Tunnel instance.
func Key(sshHost, sshPort, remoteHost, remotePort string) string {
	return fmt.Sprintf("%s:%s->%s:%s", sshHost, sshPort, remoteHost, remotePort)
}

// Pool tracks live tunnels keyed by Key so repeated resolutions of
// equivalent targets share one SSH connection rather than opening a new one
// per session.
type Pool struct {
	mu      sync.Mutex
	tunnels map[string]*Tunnel
}

func NewPool() *Pool {
	return &Pool{tunnels: map[string]*Tunnel{}}
}

// Get returns an existing tunnel for key with its ref count bumped, or opens
// a new one via open if none exists yet.
func (p *Pool) Get(key string, open func() (*Tunnel, error)) (*Tunnel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tunnels[key]; ok {
		t.Acquire()
		return t, nil
	}
	t, err := open()
	if err != nil {
		return nil, err
	}
	p.tunnels[key] = t
	return t, nil
}

// Release releases the tunnel registered under key and removes it from the
// pool once its reference count drops to zero.
func (p *Pool) Release(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tunnels[key]
	if !ok {
		return nil
	}
	if err := t.Release(); err != nil {
		return err
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		delete(p.tunnels, key)
	}
	return nil
}
