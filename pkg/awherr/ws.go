package awherr

// WebSocket close codes, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-7.4.
const (
	WSNormalClosure   = 1000
	WSGoingAway       = 1001
	WSProtocolError   = 1002
	WSUnsupportedData = 1003
	WSNotReceived     = 1005 // Reserved, never sent on the wire.
	WSClosedAbnormal  = 1006 // Reserved, never sent on the wire.
	WSInvalidData     = 1007
	WSPolicyViolation = 1008
	WSMessageTooBig   = 1009
	WSMandatoryExt    = 1010
	WSInternalError   = 1011
	WSServiceRestart  = 1012
	WSTryAgainLater   = 1013
	WSBadGateway      = 1014
	WSTLSHandshake    = 1015 // Reserved, never sent on the wire.
)

// WS constructs a KindWS [Error] carrying an RFC 6455 close code.
func WS(code int, message string) *Error {
	return New(KindWS, code, message)
}

// WrapWS constructs a KindWS [Error] carrying an RFC 6455 close code and a cause.
func WrapWS(code int, message string, err error) *Error {
	return Wrap(KindWS, code, message, err)
}
