package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/zl2brg/cudasdr/internal/protocol"
)

// Device is a radio that answered discovery
type Device struct {
	Address     *net.UDPAddr
	MAC         net.HardwareAddr
	CodeVersion uint8
	Board       protocol.BoardID
	Running     bool // already streaming to another host
}

func (d Device) String() string {
	state := "idle"
	if d.Running {
		state = "busy"
	}
	return fmt.Sprintf("%s %s (%s) code v%d.%d %s",
		d.Board, d.MAC, d.Address, d.CodeVersion/10, d.CodeVersion%10, state)
}

// Firmware returns the code version as a dotted string
func (d Device) Firmware() string {
	return fmt.Sprintf("%d.%d", d.CodeVersion/10, d.CodeVersion%10)
}

// DiscoveryRequest builds the 63-byte discovery packet
func DiscoveryRequest() []byte {
	buf := make([]byte, protocol.METIS_DISCOVERY_LENGTH)
	buf[0] = protocol.METIS_MAGIC1
	buf[1] = protocol.METIS_MAGIC2
	buf[2] = protocol.METIS_TYPE_DISCOVERY
	return buf
}

// ParseDiscoveryReply decodes a reply received from addr
func ParseDiscoveryReply(buf []byte, addr *net.UDPAddr) (Device, error) {
	if len(buf) < 11 {
		return Device{}, fmt.Errorf("discovery reply too short: %d bytes", len(buf))
	}
	if buf[0] != protocol.METIS_MAGIC1 || buf[1] != protocol.METIS_MAGIC2 {
		return Device{}, fmt.Errorf("discovery reply has bad signature % x", buf[:2])
	}
	if buf[2] != protocol.METIS_STATUS_IDLE && buf[2] != protocol.METIS_STATUS_RUNNING {
		return Device{}, fmt.Errorf("discovery reply has unknown status %#x", buf[2])
	}

	mac := make(net.HardwareAddr, 6)
	copy(mac, buf[3:9])

	return Device{
		Address:     addr,
		MAC:         mac,
		CodeVersion: buf[9],
		Board:       protocol.BoardID(buf[10]),
		Running:     buf[2] == protocol.METIS_STATUS_RUNNING,
	}, nil
}

// Discover broadcasts a discovery request on port and collects replies
// until timeout. Finding nothing is not an error.
func Discover(ctx context.Context, port int, timeout time.Duration) ([]Device, error) {
	target := &net.UDPAddr{IP: net.IPv4bcast, Port: port}
	return DiscoverAt(ctx, target, timeout)
}

// DiscoverAt sends the discovery request to target, which may be a
// broadcast or a unicast address
func DiscoverAt(ctx context.Context, target *net.UDPAddr, timeout time.Duration) ([]Device, error) {
	sock := NewUDPSocket("", 0)
	sock.SetBroadcast(true)
	if err := sock.Open(ctx); err != nil {
		return nil, fmt.Errorf("%w: discovery: %v", protocol.ErrTransport, err)
	}
	defer sock.Close()

	if err := sock.Write(DiscoveryRequest(), target); err != nil {
		return nil, fmt.Errorf("%w: discovery send to %s: %v", protocol.ErrTransport, target, err)
	}
	log.Printf("[DEBUG] Discovery: request sent to %s", target)

	deadline := time.Now().Add(timeout)
	seen := make(map[string]bool)
	var devices []Device
	buffer := make([]byte, 1500)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return devices, ctx.Err()
		}

		n, from, err := sock.Read(buffer, min(100*time.Millisecond, time.Until(deadline)))
		if err != nil {
			return devices, fmt.Errorf("%w: discovery read: %v", protocol.ErrTransport, err)
		}
		if n == 0 {
			continue
		}
		// our own broadcast may loop back
		if n == protocol.METIS_DISCOVERY_LENGTH && buffer[2] == protocol.METIS_TYPE_DISCOVERY {
			continue
		}

		dev, err := ParseDiscoveryReply(buffer[:n], from)
		if err != nil {
			log.Printf("[DEBUG] Discovery: ignoring %d bytes from %s: %v", n, from, err)
			continue
		}
		if seen[dev.MAC.String()] {
			continue
		}
		seen[dev.MAC.String()] = true
		devices = append(devices, dev)
		log.Printf("[INFO] Discovery: found %s", dev)
	}

	return devices, nil
}
