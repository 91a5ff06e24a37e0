package wshandshake

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gobwas/httphead"

	"github.com/kosmosnet/awh/pkg/awherr"
)

const permessageDeflateName = "permessage-deflate"

// ExtensionOffer is one extension a client offers during the opening
// handshake, in preference order.
type ExtensionOffer struct {
	Name   string
	Params []string // e.g. "client_max_window_bits" or "server_no_context_takeover".
}

// DeflateParams is the server's permessage-deflate negotiation policy
// (what it is willing to accept) and, after negotiation, the agreed
// parameters.
//
// https://datatracker.ietf.org/doc/html/rfc7692#section-7
type DeflateParams struct {
	ServerNoContextTakeover    bool
	ClientNoContextTakeover    bool
	ServerMaxWindowBits        int // 0 means "not offered"; valid range is 8-15.
	ClientMaxWindowBits        int
	ClientMaxWindowBitsPresent bool
}

// ExtensionAccept is the single permessage-* extension (at most one per
// spec.md §4.7) that a server accepted, with its negotiated parameters.
type ExtensionAccept struct {
	Name   string
	Params DeflateParams
}

// EncodeExtensionOffers serializes a client's extension preference list
// into a Sec-WebSocket-Extensions header value.
func EncodeExtensionOffers(offers []ExtensionOffer) string {
	parts := make([]string, 0, len(offers))
	for _, o := range offers {
		s := o.Name
		for _, p := range o.Params {
			s += "; " + p
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

// DeflateOffer builds a client-side permessage-deflate [ExtensionOffer]
// offering the given window-bits preference.
func DeflateOffer(clientMaxWindowBits int) ExtensionOffer {
	params := []string{}
	if clientMaxWindowBits > 0 {
		params = append(params, fmt.Sprintf("client_max_window_bits=%d", clientMaxWindowBits))
	} else {
		params = append(params, "client_max_window_bits")
	}
	return ExtensionOffer{Name: permessageDeflateName, Params: params}
}

// ParseExtensionOffers parses a Sec-WebSocket-Extensions header value
// into structured options, as received by a server.
func ParseExtensionOffers(header string) ([]httphead.Option, error) {
	if strings.TrimSpace(header) == "" {
		return nil, nil
	}
	options, ok := httphead.ParseOptions([]byte(header), nil)
	if !ok {
		return nil, awherr.WS(awherr.WSProtocolError, "malformed Sec-WebSocket-Extensions header")
	}
	return options, nil
}

// NegotiatePermessageDeflate finds the first permessage-deflate offer
// among offers (offers are already in client preference order) and
// negotiates it against supported, the server's own policy. Unknown
// extensions are ignored per spec.md §4.7; an unknown parameter inside
// a permessage-deflate offer fails the handshake.
func NegotiatePermessageDeflate(offers []httphead.Option, supported DeflateParams) (ExtensionAccept, bool, error) {
	for _, opt := range offers {
		if string(opt.Name) != permessageDeflateName {
			continue
		}

		offer, err := parseDeflateParams(opt)
		if err != nil {
			return ExtensionAccept{}, false, err
		}

		agreed := supported
		// A server only sets client_no_context_takeover if it requires
		// it, or the client already offered it.
		agreed.ClientNoContextTakeover = supported.ClientNoContextTakeover || offer.ClientNoContextTakeover
		// A server can only decline server_max_window_bits downward,
		// never raise what the client offered.
		if offer.ServerMaxWindowBits != 0 && (supported.ServerMaxWindowBits == 0 || offer.ServerMaxWindowBits < supported.ServerMaxWindowBits) {
			agreed.ServerMaxWindowBits = offer.ServerMaxWindowBits
		}
		if offer.ClientMaxWindowBitsPresent {
			agreed.ClientMaxWindowBitsPresent = true
			if offer.ClientMaxWindowBits != 0 && (!supported.ClientMaxWindowBitsPresent || offer.ClientMaxWindowBits < supported.ClientMaxWindowBits) {
				agreed.ClientMaxWindowBits = offer.ClientMaxWindowBits
			}
		} else {
			agreed.ClientMaxWindowBitsPresent = false
		}

		return ExtensionAccept{Name: permessageDeflateName, Params: agreed}, true, nil
	}
	return ExtensionAccept{}, false, nil
}

func parseDeflateParams(opt httphead.Option) (DeflateParams, error) {
	var p DeflateParams
	var parseErr error

	opt.Parameters.Foreach(func(k, v []byte) bool {
		switch string(k) {
		case "server_no_context_takeover":
			p.ServerNoContextTakeover = true
		case "client_no_context_takeover":
			p.ClientNoContextTakeover = true
		case "server_max_window_bits":
			n, err := strconv.Atoi(string(v))
			if err != nil || n < 8 || n > 15 {
				parseErr = awherr.WS(awherr.WSProtocolError, "invalid server_max_window_bits value")
				return false
			}
			p.ServerMaxWindowBits = n
		case "client_max_window_bits":
			p.ClientMaxWindowBitsPresent = true
			if len(v) > 0 {
				n, err := strconv.Atoi(string(v))
				if err != nil || n < 8 || n > 15 {
					parseErr = awherr.WS(awherr.WSProtocolError, "invalid client_max_window_bits value")
					return false
				}
				p.ClientMaxWindowBits = n
			}
		default:
			parseErr = awherr.WS(awherr.WSProtocolError, "unknown permessage-deflate parameter: "+string(k))
			return false
		}
		return true
	})

	return p, parseErr
}

// EncodeExtensionAccept serializes the server's single accepted
// extension into a Sec-WebSocket-Extensions header value.
func EncodeExtensionAccept(a ExtensionAccept) string {
	s := a.Name
	p := a.Params
	if p.ServerNoContextTakeover {
		s += "; server_no_context_takeover"
	}
	if p.ClientNoContextTakeover {
		s += "; client_no_context_takeover"
	}
	if p.ServerMaxWindowBits != 0 {
		s += fmt.Sprintf("; server_max_window_bits=%d", p.ServerMaxWindowBits)
	}
	if p.ClientMaxWindowBitsPresent {
		if p.ClientMaxWindowBits != 0 {
			s += fmt.Sprintf("; client_max_window_bits=%d", p.ClientMaxWindowBits)
		} else {
			s += "; client_max_window_bits"
		}
	}
	return s
}
