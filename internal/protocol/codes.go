// Package protocol implements the asynchronous management wire protocol:
// a framed binary request/response format that carries operations and
// streamed results between controllers, with in-flight cancellation and
// host-controller registration.
//
// Every request begins with a one-byte handler id selecting the
// server-side handler, then RequestOperation, then a one-byte request
// code and a code-specific body. Responses are a one-byte response code
// followed by tagged parameters. Strings on the wire are null-terminated
// UTF-8, integers 4-byte big-endian, booleans one byte, and structured
// values use the compact binary encoding from pkg/model.
package protocol

// Handler ids. The byte value selects which server-side handler consumes
// the request; unknown ids are rejected with a framed error.
const (
	// HandlerController addresses a standalone server's controller.
	HandlerController byte = 0x10
	// HandlerDomain addresses a domain controller, which additionally
	// accepts host registration.
	HandlerDomain byte = 0x11
	// HandlerHost addresses a host controller reached through a domain.
	HandlerHost byte = 0x12
)

// RequestOperation follows the handler id on every request.
const RequestOperation byte = 0x01

// Request and response codes. The values are part of the wire contract
// and must not be renumbered.
const (
	// RequestExecuteSync carries ParamOperation + operation; the response
	// is ParamOperation + the full result envelope.
	RequestExecuteSync  byte = 0x21
	ResponseExecuteSync byte = 0x22

	// RequestExecuteAsync carries ParamOperation + operation. The
	// response is a sequence: an optional ParamRequestID (sent only when
	// the operation has not completed inline by the time the dispatcher
	// checks), zero or more fragment records, then exactly one terminal.
	RequestExecuteAsync  byte = 0x23
	ResponseExecuteAsync byte = 0x24

	// RequestCancelAsync carries ParamRequestID + id; the response is one
	// boolean: true when the cancel was delivered before the terminal.
	RequestCancelAsync  byte = 0x25
	ResponseCancelAsync byte = 0x26

	// RequestRegisterHost carries ParamHostID + host name; the response
	// is ParamModel + the domain's root model snapshot.
	RequestRegisterHost  byte = 0x27
	ResponseRegisterHost byte = 0x28

	// RequestUnregisterHost carries ParamHostID + host name; the response
	// has no body.
	RequestUnregisterHost  byte = 0x29
	ResponseUnregisterHost byte = 0x2A

	// ResponseError reports a protocol violation: the body is one
	// null-terminated message and the stream is closed afterwards.
	ResponseError byte = 0x7F
)

// Parameter tags.
const (
	ParamOperation            byte = 0x60
	ParamRequestID            byte = 0x61
	ParamHandleResultFragment byte = 0x62
	ParamLocation             byte = 0x63
	ParamHandleResultComplete byte = 0x64
	ParamHandleResultFailed   byte = 0x65
	ParamHandleCancellation   byte = 0x66
	ParamHostID               byte = 0x67
	ParamModel                byte = 0x68
)

// DefaultConnectTimeout bounds outbound connection establishment.
const DefaultConnectTimeout = 5000 // milliseconds
