// Package courier correlates requests, responses and events exchanged
// between two peers of an already established connection.
//
// Either side of a connection can issue typed remote calls (*Get*, *Post*,
// *Put*, *Delete*) or fire-and-forget *events*, and wait for the matching
// reply while other calls are in flight. A side built with `NewServer`
// also dispatches inbound calls to its local `Handler`.
//
// ## How it works
//
// Messages are *envelopes* travelling on three logical channels of a
// `peer.Conn`:
//
// * channel `0` carries `Request`s,
// * channel `1` carries `Response`s,
// * channel `2` carries events, which reuse the `Request` shape with
// `MethodEvent`.
//
// Every outbound call gets a fresh UUID. The call is recorded in a
// pending-call registry *before* the bytes are sent, then the caller waits
// until a `Response` whose `RequestID` matches comes back. A response
// nobody waits for is dropped silently.
//
// Envelopes are checked at every boundary: before they are sent and right
// after they are decoded. A `*ValidationError` lists every field which is
// wrong, not only the first one.
//
// Payloads are protobuf messages packed in `google.protobuf.Any`, so the
// receiving side needs the message types registered in its
// `TypeResolver`.
//
// ## What it does not do
//
// Connections are established by the `peer.Conn` implementation, see
// package `peer` for an in-memory hub, a QUIC and a gossip-based one.
// There is no retry: a refused send fails the operation. Handler errors
// are not translated to responses, they fail the inbound dispatch and the
// remote caller only learns about it through its own deadline.
package courier
