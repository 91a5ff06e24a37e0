// Package proxy implements the ProxyStateMachines component of spec.md
// §4.8: the SOCKS5 (RFC 1928 + RFC 1929) and HTTP CONNECT client
// negotiations that precede application traffic on a broker's
// connection. Both machines work purely over byte buffers, so
// pkg/conncore can drive either one through the same read/write loop it
// uses once negotiation hands off to application traffic.
package proxy

import (
	"encoding/binary"
	"net"
	"strconv"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/httpmodel"
)

// Socks5State is one state of the SOCKS5 client negotiation, per
// spec.md §4.8.
type Socks5State int

const (
	Socks5GreetingSent Socks5State = iota
	Socks5AuthRequired
	Socks5AuthSent
	Socks5RequestSent
	Socks5Established
	Socks5End
)

func (s Socks5State) String() string {
	switch s {
	case Socks5GreetingSent:
		return "GREETING_SENT"
	case Socks5AuthRequired:
		return "AUTH_REQUIRED"
	case Socks5AuthSent:
		return "AUTH_SENT"
	case Socks5RequestSent:
		return "REQUEST_SENT"
	case Socks5Established:
		return "ESTABLISHED"
	case Socks5End:
		return "END"
	default:
		return "UNKNOWN"
	}
}

const (
	socks5Version = 0x05

	methodNoAuth   = 0x00
	methodUserPass = 0x02
	methodNoAccept = 0xff

	authSubnegVersion = 0x01

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	replySucceeded = 0x00
)

// Socks5Client drives one SOCKS5 negotiation for a single broker, per
// spec.md §4.8's state list.
type Socks5Client struct {
	state Socks5State
	creds *httpmodel.Credentials // nil => NO_AUTH is the only offered method.
}

// NewSocks5Client constructs a client. If creds is non-nil, the client
// offers USERNAME/PASSWORD as its only method; otherwise it offers
// NO_AUTH only.
func NewSocks5Client(creds *httpmodel.Credentials) *Socks5Client {
	return &Socks5Client{state: Socks5GreetingSent, creds: creds}
}

// State returns the negotiation's current state.
func (c *Socks5Client) State() Socks5State {
	return c.state
}

// Greeting returns the client's method-selection message.
func (c *Socks5Client) Greeting() []byte {
	if c.creds != nil {
		return []byte{socks5Version, 0x01, methodUserPass}
	}
	return []byte{socks5Version, 0x01, methodNoAuth}
}

// HandleGreetingReply processes the server's 2-byte method-selection
// reply. It returns needMore=true if buf doesn't yet hold a complete
// reply.
func (c *Socks5Client) HandleGreetingReply(buf []byte) (consumed int, needMore bool, err error) {
	if len(buf) < 2 {
		return 0, true, nil
	}
	if buf[0] != socks5Version {
		c.state = Socks5End
		return 2, false, awherr.New(awherr.KindProxy, 0, "unexpected SOCKS version in method-selection reply")
	}

	switch buf[1] {
	case methodNoAuth:
		c.state = Socks5RequestSent
	case methodUserPass:
		c.state = Socks5AuthRequired
	default:
		c.state = Socks5End
		return 2, false, awherr.New(awherr.KindProxy, 0, "SOCKS5 server rejected all offered authentication methods")
	}
	return 2, false, nil
}

// AuthRequest builds the username/password sub-negotiation request
// (RFC 1929 §2). The caller must have observed state AuthRequired.
func (c *Socks5Client) AuthRequest() ([]byte, error) {
	if c.creds == nil {
		return nil, awherr.New(awherr.KindProxy, 0, "SOCKS5 server requires authentication but no credentials are configured")
	}
	if len(c.creds.Username) > 255 || len(c.creds.Password) > 255 {
		return nil, awherr.New(awherr.KindProxy, 0, "SOCKS5 username/password must each be at most 255 bytes")
	}

	buf := make([]byte, 0, 3+len(c.creds.Username)+len(c.creds.Password))
	buf = append(buf, authSubnegVersion, byte(len(c.creds.Username)))
	buf = append(buf, c.creds.Username...)
	buf = append(buf, byte(len(c.creds.Password)))
	buf = append(buf, c.creds.Password...)

	c.state = Socks5AuthSent
	return buf, nil
}

// HandleAuthReply processes the server's 2-byte sub-negotiation reply.
func (c *Socks5Client) HandleAuthReply(buf []byte) (consumed int, needMore bool, err error) {
	if len(buf) < 2 {
		return 0, true, nil
	}
	if buf[1] != 0x00 {
		c.state = Socks5End
		return 2, false, awherr.New(awherr.KindProxy, 0, "SOCKS5 username/password authentication was rejected")
	}
	c.state = Socks5RequestSent
	return 2, false, nil
}

// ConnectRequest builds the CONNECT command targeting host:port. host
// may be an IPv4/IPv6 literal or a domain name; the appropriate ATYP is
// chosen automatically.
func (c *Socks5Client) ConnectRequest(host string, port uint16) ([]byte, error) {
	buf := []byte{socks5Version, cmdConnect, 0x00}

	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			buf = append(buf, atypIPv4)
			buf = append(buf, v4...)
		} else {
			buf = append(buf, atypIPv6)
			buf = append(buf, ip.To16()...)
		}
	} else {
		if len(host) > 255 {
			return nil, awherr.New(awherr.KindProxy, 0, "SOCKS5 target domain name exceeds 255 bytes")
		}
		buf = append(buf, atypDomain, byte(len(host)))
		buf = append(buf, host...)
	}

	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, port)
	buf = append(buf, portBytes...)

	c.state = Socks5RequestSent
	return buf, nil
}

// HandleConnectReply parses the server's CONNECT reply. On REP=0x00 the
// negotiation transitions to Established, and the caller should switch
// this broker from "proxy reads" to "application reads" (spec.md
// §4.8).
func (c *Socks5Client) HandleConnectReply(buf []byte) (consumed int, needMore bool, err error) {
	if len(buf) < 4 {
		return 0, true, nil
	}
	if buf[0] != socks5Version {
		c.state = Socks5End
		return 0, false, awherr.New(awherr.KindProxy, 0, "unexpected SOCKS version in CONNECT reply")
	}

	rep := buf[1]
	atyp := buf[3]

	var addrLen int
	switch atyp {
	case atypIPv4:
		addrLen = 4
	case atypIPv6:
		addrLen = 16
	case atypDomain:
		if len(buf) < 5 {
			return 0, true, nil
		}
		addrLen = 1 + int(buf[4])
	default:
		c.state = Socks5End
		return 0, false, awherr.New(awherr.KindProxy, 0, "unsupported address type in CONNECT reply")
	}

	total := 4 + addrLen + 2
	if len(buf) < total {
		return 0, true, nil
	}

	if rep != replySucceeded {
		c.state = Socks5End
		return total, false, awherr.New(awherr.KindProxy, int(rep), "SOCKS5 CONNECT reply status: "+socksReplyText(rep))
	}

	c.state = Socks5Established
	return total, false, nil
}

func socksReplyText(rep byte) string {
	switch rep {
	case 0x01:
		return "general SOCKS server failure"
	case 0x02:
		return "connection not allowed by ruleset"
	case 0x03:
		return "network unreachable"
	case 0x04:
		return "host unreachable"
	case 0x05:
		return "connection refused"
	case 0x06:
		return "TTL expired"
	case 0x07:
		return "command not supported"
	case 0x08:
		return "address type not supported"
	default:
		return "unknown reply code " + strconv.Itoa(int(rep))
	}
}
