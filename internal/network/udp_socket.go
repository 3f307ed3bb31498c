package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// DSCP EF (46) in the IPv4 TOS byte, used for outbound radio traffic
const TOS_EXPEDITED = 0xB8

const SOCKET_BUFFER_SIZE = 1024 * 1024

// UDPSocket is the IPv4 datagram socket shared by the radio transport and
// discovery
type UDPSocket struct {
	conn      *net.UDPConn
	address   string
	port      int
	broadcast bool
	tos       int
}

// NewUDPSocket creates a socket bound to address:port once opened. An empty
// address binds all interfaces; port 0 picks an ephemeral port.
func NewUDPSocket(address string, port int) *UDPSocket {
	return &UDPSocket{
		address: address,
		port:    port,
	}
}

// SetBroadcast enables SO_BROADCAST; call before Open
func (s *UDPSocket) SetBroadcast(on bool) {
	s.broadcast = on
}

// SetTOS marks outbound datagrams with tos; call before Open. Zero leaves
// the system default.
func (s *UDPSocket) SetTOS(tos int) {
	s.tos = tos
}

// Open binds the socket
func (s *UDPSocket) Open(ctx context.Context) error {
	ip := net.IPv4zero
	if s.address != "" {
		ip = net.ParseIP(s.address)
		if ip == nil {
			return fmt.Errorf("invalid address: %s", s.address)
		}
	}
	local := &net.UDPAddr{IP: ip, Port: s.port}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
					return
				}
				if s.broadcast {
					if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
						sockErr = fmt.Errorf("failed to set SO_BROADCAST: %w", err)
						return
					}
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp4", local.String())
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", local, err)
	}
	s.conn = pc.(*net.UDPConn)

	if err := s.conn.SetReadBuffer(SOCKET_BUFFER_SIZE); err != nil {
		log.Printf("[WARN] UDP: failed to set read buffer size: %v", err)
	}
	if err := s.conn.SetWriteBuffer(SOCKET_BUFFER_SIZE); err != nil {
		log.Printf("[WARN] UDP: failed to set write buffer size: %v", err)
	}

	if s.tos != 0 {
		if err := ipv4.NewConn(s.conn).SetTOS(s.tos); err != nil {
			log.Printf("[WARN] UDP: failed to set TOS %#x: %v", s.tos, err)
		}
	}

	log.Printf("[DEBUG] UDP socket bound to %s", s.conn.LocalAddr())
	return nil
}

// LocalAddr returns the bound address
func (s *UDPSocket) LocalAddr() *net.UDPAddr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Read waits up to timeout for one datagram. A timeout returns 0 bytes and
// no error.
func (s *UDPSocket) Read(buffer []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	if s.conn == nil {
		return 0, nil, fmt.Errorf("socket not open")
	}

	s.conn.SetReadDeadline(time.Now().Add(timeout))

	n, addr, err := s.conn.ReadFromUDP(buffer)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil, nil
		}
		return 0, nil, err
	}

	return n, addr, nil
}

// Write sends one datagram to addr
func (s *UDPSocket) Write(buffer []byte, addr *net.UDPAddr) error {
	if s.conn == nil {
		return fmt.Errorf("socket not open")
	}

	_, err := s.conn.WriteToUDP(buffer, addr)
	return err
}

// Close closes the socket
func (s *UDPSocket) Close() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		log.Printf("[DEBUG] UDP socket closed")
	}
}

// ParseUDPAddr resolves address to an IPv4 UDP address
func ParseUDPAddr(address string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(address, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", address, err)
	}
	return addr, nil
}
