package raftnode

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/hashicorp/raft"
)

// tcpStreamLayer is a raft.StreamLayer over a plain TCP listener,
// optionally TLS-wrapped, grounded on the pack's gumlog reference's
// StreamLayer (same Dial/Accept/Addr/Close shape, without its RPC-byte
// multiplexing since this binding has no co-located gRPC service to share
// the port with).
type tcpStreamLayer struct {
	ln        net.Listener
	tlsConfig *tls.Config
}

var _ raft.StreamLayer = (*tcpStreamLayer)(nil)

func newTCPStreamLayer(addr string, tlsConfig *tls.Config) (*tcpStreamLayer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpStreamLayer{ln: ln, tlsConfig: tlsConfig}, nil
}

func (s *tcpStreamLayer) Dial(addr raft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("tcp", string(addr))
	if err != nil {
		return nil, err
	}
	if s.tlsConfig != nil {
		return tls.Client(conn, s.tlsConfig), nil
	}
	return conn, nil
}

func (s *tcpStreamLayer) Accept() (net.Conn, error) {
	conn, err := s.ln.Accept()
	if err != nil {
		return nil, err
	}
	if s.tlsConfig != nil {
		return tls.Server(conn, s.tlsConfig), nil
	}
	return conn, nil
}

func (s *tcpStreamLayer) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *tcpStreamLayer) Close() error {
	return s.ln.Close()
}
