package awherr

// HTTP/2 error codes, as defined in https://www.rfc-editor.org/rfc/rfc9113#section-7.
const (
	H2NoError            = 0x0
	H2ProtocolError      = 0x1
	H2InternalError      = 0x2
	H2FlowControlError   = 0x3
	H2SettingsTimeout    = 0x4
	H2StreamClosed       = 0x5
	H2FrameSizeError     = 0x6
	H2RefusedStream      = 0x7
	H2Cancel             = 0x8
	H2CompressionError   = 0x9
	H2ConnectError       = 0xa
	H2EnhanceYourCalm    = 0xb
	H2InadequateSecurity = 0xc
	H2HTTP11Required     = 0xd
)

// HTTP2 constructs a KindHTTP2 [Error] carrying an RFC 9113 error code.
func HTTP2(code int, message string) *Error {
	return New(KindHTTP2, code, message)
}

// WrapHTTP2 constructs a KindHTTP2 [Error] carrying an RFC 9113 error code and a cause.
func WrapHTTP2(code int, message string, err error) *Error {
	return Wrap(KindHTTP2, code, message, err)
}
