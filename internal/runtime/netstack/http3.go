// Package netstack provides the optional network transport for the
// runtime's diagnostic surfaces.
package netstack

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	http3 "github.com/quic-go/quic-go/http3"
)

// HTTP3Server wraps http3.Server lifecycle for the debug and metrics muxes.
type HTTP3Server struct {
	srv   *http3.Server
	pc    net.PacketConn
	addr  string
	close func() error
}

// NewHTTP3Server creates a server bound to addr with given TLS config and
// handler.
func NewHTTP3Server(addr string, tlsCfg *tls.Config, h http.Handler) *HTTP3Server {
	s := &http3.Server{Addr: addr, TLSConfig: tlsCfg, Handler: h}
	return &HTTP3Server{srv: s, addr: addr}
}

// Start begins serving HTTP/3; addr ":0" binds an ephemeral UDP port. The
// bound address is returned.
func (s *HTTP3Server) Start() (string, error) {
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return "", err
	}
	s.pc = pc
	realAddr := pc.LocalAddr().String()
	done := make(chan struct{})
	go func() {
		_ = s.srv.Serve(pc)
		close(done)
	}()
	s.close = func() error {
		_ = pc.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return nil
	}
	return realAddr, nil
}

// Stop stops the server.
func (s *HTTP3Server) Stop() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}

// HTTP3Client returns an http.Client using an HTTP/3 round tripper.
func HTTP3Client(tlsCfg *tls.Config, timeout time.Duration) *http.Client {
	tr := &http3.Transport{TLSClientConfig: tlsCfg}
	return &http.Client{Transport: tr, Timeout: timeout}
}

// ShutdownHTTP3 closes the client's round tripper if applicable.
func ShutdownHTTP3(c *http.Client) {
	if tr, ok := c.Transport.(*http3.Transport); ok {
		_ = tr.Close()
	}
}
