package httpmodel

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/kosmosnet/awh/pkg/awherr"
)

// AuthType selects the HTTP authentication scheme.
type AuthType int

const (
	AuthNone AuthType = iota
	AuthBasic
	AuthDigest
)

// DigestHash selects the hash algorithm used by Digest authentication.
type DigestHash int

const (
	DigestMD5 DigestHash = iota
	DigestSHA256
)

func (h DigestHash) String() string {
	if h == DigestSHA256 {
		return "SHA-256"
	}
	return "MD5"
}

func (h DigestHash) new() hash.Hash {
	if h == DigestSHA256 {
		return sha256.New()
	}
	return md5.New()
}

// Outcome is the result of attempting to satisfy an authentication
// challenge, per spec.md §4.6.
type Outcome int

const (
	// Good: the request was accepted, no further action needed.
	Good Outcome = iota
	// Retry: credentials were accepted by the caller's policy but the
	// target requires the request to be re-issued with fresh
	// authentication (a new challenge was received).
	Retry
	// Fault: authentication cannot succeed; terminal.
	Fault
)

// Credentials holds the username/password pair used to satisfy a
// challenge.
type Credentials struct {
	Username string
	Password string
}

// Challenge carries the parameters of a WWW-Authenticate or
// Proxy-Authenticate challenge header.
type Challenge struct {
	Type   AuthType
	Realm  string
	Hash   DigestHash
	Nonce  string
	QOP    string // "" or "auth"; qop=auth-int is not supported (spec.md Non-goals).
	Opaque string
	Stale  bool
}

// ParseChallenge parses a WWW-Authenticate/Proxy-Authenticate header
// value into a Challenge.
func ParseChallenge(header string) (Challenge, error) {
	header = strings.TrimSpace(header)
	scheme, rest, _ := strings.Cut(header, " ")

	c := Challenge{}
	switch strings.ToLower(scheme) {
	case "basic":
		c.Type = AuthBasic
	case "digest":
		c.Type = AuthDigest
	default:
		return Challenge{}, awherr.New(awherr.KindAuth, 0, "unsupported authentication scheme: "+scheme)
	}

	for _, kv := range splitAuthParams(rest) {
		name, value, _ := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch strings.ToLower(name) {
		case "realm":
			c.Realm = value
		case "nonce":
			c.Nonce = value
		case "qop":
			// A server may offer a comma-separated list; prefer "auth".
			for _, q := range strings.Split(value, ",") {
				if strings.TrimSpace(q) == "auth" {
					c.QOP = "auth"
				}
			}
		case "opaque":
			c.Opaque = value
		case "stale":
			c.Stale = strings.EqualFold(value, "true")
		case "algorithm":
			if strings.EqualFold(value, "SHA-256") {
				c.Hash = DigestSHA256
			}
		}
	}

	return c, nil
}

// splitAuthParams splits a comma-separated list of key=value (possibly
// quoted) pairs, respecting commas inside quotes.
func splitAuthParams(s string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			if trimmed := strings.TrimSpace(cur.String()); trimmed != "" {
				out = append(out, trimmed)
			}
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if trimmed := strings.TrimSpace(cur.String()); trimmed != "" {
		out = append(out, trimmed)
	}
	return out
}

// State tracks a single request's authentication progress across
// retries, bounded by maxAttempts (spec.md default 15).
type State struct {
	creds       Credentials
	maxAttempts int
	attempts    int
	nonceCount  int
}

// NewState constructs authentication retry state for one logical
// request.
func NewState(creds Credentials, maxAttempts int) *State {
	if maxAttempts <= 0 {
		maxAttempts = 15
	}
	return &State{creds: creds, maxAttempts: maxAttempts}
}

// Respond builds the Authorization header value for challenge,
// targeting method and uri, and reports the outcome: Retry if attempts
// remain after this one, Good on the last permitted attempt, and Fault
// (with an error) once the attempt budget is exhausted.
func (s *State) Respond(challenge Challenge, method, uri string) (string, Outcome, error) {
	s.attempts++
	if s.attempts > s.maxAttempts {
		return "", Fault, awherr.New(awherr.KindAuth, 0, "authentication attempts exhausted")
	}

	var value string
	var err error

	switch challenge.Type {
	case AuthBasic:
		value = basicAuth(s.creds)
	case AuthDigest:
		s.nonceCount++
		value, err = digestAuth(s.creds, challenge, method, uri, s.nonceCount)
	default:
		return "", Fault, awherr.New(awherr.KindAuth, 0, "unsupported authentication scheme")
	}
	if err != nil {
		return "", Fault, err
	}

	if s.attempts >= s.maxAttempts {
		return value, Good, nil
	}
	return value, Retry, nil
}

func basicAuth(c Credentials) string {
	raw := c.Username + ":" + c.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

func digestAuth(c Credentials, ch Challenge, method, uri string, nc int) (string, error) {
	if ch.Nonce == "" {
		return "", awherr.New(awherr.KindAuth, 0, "digest challenge missing nonce")
	}

	cnonce, err := randomCnonce()
	if err != nil {
		return "", err
	}

	h := ch.Hash
	ha1 := hexHash(h, fmt.Sprintf("%s:%s:%s", c.Username, ch.Realm, c.Password))
	ha2 := hexHash(h, fmt.Sprintf("%s:%s", method, uri))

	ncStr := fmt.Sprintf("%08x", nc)

	var response string
	if ch.QOP == "auth" {
		response = hexHash(h, strings.Join([]string{ha1, ch.Nonce, ncStr, cnonce, ch.QOP, ha2}, ":"))
	} else {
		response = hexHash(h, strings.Join([]string{ha1, ch.Nonce, ha2}, ":"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		c.Username, ch.Realm, ch.Nonce, uri, response)
	if ch.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, ch.Opaque)
	}
	if ch.Hash == DigestSHA256 {
		b.WriteString(`, algorithm=SHA-256`)
	}
	if ch.QOP == "auth" {
		fmt.Fprintf(&b, `, qop=auth, nc=%s, cnonce="%s"`, ncStr, cnonce)
	}

	return b.String(), nil
}

func hexHash(h DigestHash, s string) string {
	sum := h.new()
	sum.Write([]byte(s))
	return hex.EncodeToString(sum.Sum(nil))
}

func randomCnonce() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", awherr.Wrap(awherr.KindAuth, 0, "failed to generate cnonce", err)
	}
	return hex.EncodeToString(buf), nil
}
