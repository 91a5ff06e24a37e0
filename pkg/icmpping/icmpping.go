// Package icmpping implements the IcmpPing component of spec.md §4.12:
// raw ICMPv4/ICMPv6 echo with integrated DNS fallback, both a
// synchronous "ping N times and average" mode and an asynchronous
// "keep pinging on an interval" mode. It is grounded on
// original_source/src/net/ping.cpp: the echo type codes (8 for ICMPv4,
// 128 for ICMPv6), the one's-complement checksum algorithm, the
// privileged-raw-socket-vs-SOCK_DGRAM fallback, and the "resolve AAAA
// then fall back to A" host handling all come directly from that file,
// reimplemented over golang.org/x/net/icmp instead of raw syscalls.
package icmpping

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"runtime"
	"time"

	"golang.org/x/net/icmp"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/dnsresolver"
)

const (
	icmpEchoRequestV4 = 8
	icmpEchoReplyV4   = 0
	icmpEchoRequestV6 = 128
	icmpEchoReplyV6   = 129
)

// ProbeResult is the raw-socket capability detected at startup, per
// spec.md §9's "Global/process state" design note.
type ProbeResult int

const (
	ProbeUnknown ProbeResult = iota
	ProbeRawSocket
	ProbeDatagramSocket
	ProbeUnavailable
)

func (p ProbeResult) String() string {
	switch p {
	case ProbeRawSocket:
		return "raw"
	case ProbeDatagramSocket:
		return "datagram"
	case ProbeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ProbePrivilege detects whether this process can open ICMP raw
// sockets, falling back to unprivileged SOCK_DGRAM ICMP (available on
// Linux and some BSDs) when it cannot, mirroring
// original_source/src/net/ping.cpp's `getuid()` check generalized to a
// portable capability probe.
func ProbePrivilege() ProbeResult {
	if c, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0"); err == nil {
		c.Close()
		return ProbeRawSocket
	}
	if runtime.GOOS == "linux" {
		if c, err := icmp.ListenPacket("udp4", "0.0.0.0"); err == nil {
			c.Close()
			return ProbeDatagramSocket
		}
	}
	return ProbeUnavailable
}

func listenNetwork(result ProbeResult, v6 bool) string {
	switch {
	case v6 && result == ProbeRawSocket:
		return "ip6:ipv6-icmp"
	case v6:
		return "udp6"
	case result == ProbeRawSocket:
		return "ip4:icmp"
	default:
		return "udp4"
	}
}

// dstAddr builds the net.Addr shape icmp.PacketConn.WriteTo expects for
// the chosen network: *net.IPAddr over a raw socket, *net.UDPAddr over
// the unprivileged SOCK_DGRAM fallback.
func dstAddr(result ProbeResult, ip net.IP) net.Addr {
	if result == ProbeRawSocket {
		return &net.IPAddr{IP: ip}
	}
	return &net.UDPAddr{IP: ip}
}

// Checksum computes the 16-bit one's-complement checksum used by both
// ICMPv4 and the ICMPv6 pseudo-header sum, per
// original_source/src/net/ping.cpp's checksum().
func Checksum(b []byte) uint16 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return ^uint16(sum)
}

// BuildEchoV4 builds an ICMPv4 Echo Request datagram.
func BuildEchoV4(id, seq int, payload []byte) []byte {
	return buildEcho(icmpEchoRequestV4, id, seq, payload)
}

// BuildEchoV6 builds an ICMPv6 Echo Request datagram. Its checksum
// covers the pseudo-header (src, dst, length, next-header) as RFC 4443
// requires; src and dst are the 16-byte addresses that will appear in
// the IPv6 header.
func BuildEchoV6(id, seq int, payload []byte, src, dst net.IP) []byte {
	msg := buildEcho(icmpEchoRequestV6, id, seq, payload)
	msg[2], msg[3] = 0, 0

	pseudo := make([]byte, 0, 40+len(msg))
	pseudo = append(pseudo, src.To16()...)
	pseudo = append(pseudo, dst.To16()...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(msg)))
	pseudo = append(pseudo, lenBuf[:]...)
	pseudo = append(pseudo, 0, 0, 0, 58) // next header = ICMPv6
	pseudo = append(pseudo, msg...)

	sum := Checksum(pseudo)
	binary.BigEndian.PutUint16(msg[2:4], sum)
	return msg
}

func buildEcho(icmpType, id, seq int, payload []byte) []byte {
	msg := make([]byte, 8+len(payload))
	msg[0] = byte(icmpType)
	msg[1] = 0 // code
	// msg[2:4] checksum filled below (or by caller, for v6)
	binary.BigEndian.PutUint16(msg[4:6], uint16(id))
	binary.BigEndian.PutUint16(msg[6:8], uint16(seq))
	copy(msg[8:], payload)

	if icmpType == icmpEchoRequestV4 {
		binary.BigEndian.PutUint16(msg[2:4], Checksum(msg))
	}
	return msg
}

// EchoReply is a parsed ICMP Echo Reply.
type EchoReply struct {
	ID      int
	Seq     int
	Payload []byte
}

// ParseEchoReply validates buf as an Echo Reply for the given IP
// version and extracts its identifier/sequence/payload.
func ParseEchoReply(buf []byte, v6 bool) (EchoReply, error) {
	if len(buf) < 8 {
		return EchoReply{}, awherr.New(awherr.KindTransport, 0, "ICMP reply too short")
	}

	wantType := byte(icmpEchoReplyV4)
	if v6 {
		wantType = icmpEchoReplyV6
	}
	if buf[0] != wantType {
		return EchoReply{}, awherr.New(awherr.KindTransport, int(buf[0]), fmt.Sprintf("unexpected ICMP type %d", buf[0]))
	}

	return EchoReply{
		ID:      int(binary.BigEndian.Uint16(buf[4:6])),
		Seq:     int(binary.BigEndian.Uint16(buf[6:8])),
		Payload: buf[8:],
	}, nil
}

// Pinger sends ICMP Echo Requests to a single resolved address.
type Pinger struct {
	resolver *dnsresolver.Resolver
	probe    ProbeResult
	readTO   time.Duration
	writeTO  time.Duration
}

// NewPinger constructs a Pinger. probe, from [ProbePrivilege], governs
// whether raw or datagram sockets are used.
func NewPinger(resolver *dnsresolver.Resolver, probe ProbeResult, readTimeout, writeTimeout time.Duration) *Pinger {
	return &Pinger{resolver: resolver, probe: probe, readTO: readTimeout, writeTO: writeTimeout}
}

// resolve returns the target IP and whether it is IPv6, preferring
// AAAA then A for a domain name (spec.md §4.12), or the literal IP if
// host is already one.
func (p *Pinger) resolve(ctx context.Context, host string) (net.IP, bool, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, ip.To4() == nil, nil
	}
	ip, err := p.resolver.ResolvePreferred(ctx, host)
	if err != nil {
		return nil, false, err
	}
	return ip, ip.To4() == nil, nil
}

// PingSync sends count Echo Requests with sequence 0..count-1 and
// returns the mean RTT in milliseconds, floored to 3 decimal places,
// per spec.md §4.12 Mode B.
func (p *Pinger) PingSync(ctx context.Context, host string, count int) (float64, error) {
	ip, v6, err := p.resolve(ctx, host)
	if err != nil {
		return 0, err
	}

	conn, err := icmp.ListenPacket(listenNetwork(p.probe, v6), "")
	if err != nil {
		return 0, awherr.Wrap(awherr.KindTransport, 0, "opening ICMP socket", err)
	}
	defer conn.Close()

	id := rand.Intn(1 << 16)
	dst := dstAddr(p.probe, ip)

	var total time.Duration
	for seq := 0; seq < count; seq++ {
		rtt, err := p.exchange(conn, ip, dst, v6, id, seq)
		if err != nil {
			return 0, err
		}
		total += rtt
	}

	avgMs := float64(total.Microseconds()) / 1000.0 / float64(count)
	return floor3(avgMs), nil
}

// Worker runs Mode A (spec.md §4.12): it pings host every interval
// until ctx is cancelled, invoking onReply(rttMs, host) for every
// successful reply.
func (p *Pinger) Worker(ctx context.Context, host string, interval time.Duration, onReply func(rttMs float64, host string)) error {
	ip, v6, err := p.resolve(ctx, host)
	if err != nil {
		return err
	}

	conn, err := icmp.ListenPacket(listenNetwork(p.probe, v6), "")
	if err != nil {
		return awherr.Wrap(awherr.KindTransport, 0, "opening ICMP socket", err)
	}
	defer conn.Close()

	id := rand.Intn(1 << 16)
	dst := dstAddr(p.probe, ip)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for seq := 0; ; seq++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		rtt, err := p.exchange(conn, ip, dst, v6, id, seq)
		if err != nil {
			continue
		}
		onReply(float64(rtt.Microseconds())/1000.0, host)
	}
}

func (p *Pinger) exchange(conn *icmp.PacketConn, ip net.IP, dst net.Addr, v6 bool, id, seq int) (time.Duration, error) {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, rand.Uint64())

	var msg []byte
	if v6 {
		local := localAddr(conn)
		msg = BuildEchoV6(id, seq, payload, local, ip)
	} else {
		msg = BuildEchoV4(id, seq, payload)
	}

	if p.writeTO > 0 {
		conn.SetWriteDeadline(time.Now().Add(p.writeTO))
	}
	start := time.Now()
	if _, err := conn.WriteTo(msg, dst); err != nil {
		return 0, awherr.Wrap(awherr.KindTransport, 0, "sending ICMP echo request", err)
	}

	buf := make([]byte, 1024)
	if p.readTO > 0 {
		conn.SetReadDeadline(time.Now().Add(p.readTO))
	}
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, awherr.Wrap(awherr.KindTransport, 0, "reading ICMP echo reply", err)
		}
		reply, err := ParseEchoReply(buf[:n], v6)
		if err != nil {
			continue
		}
		if reply.ID != id || reply.Seq != seq {
			continue
		}
		return time.Since(start), nil
	}
}

func localAddr(conn *icmp.PacketConn) net.IP {
	if a, ok := conn.LocalAddr().(*net.IPAddr); ok {
		return a.IP
	}
	if a, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return a.IP
	}
	return net.IPv6zero
}

func floor3(v float64) float64 {
	return float64(int64(v*1000)) / 1000
}
