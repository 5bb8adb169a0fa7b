// Package pgconn implements the client side of the PostgreSQL
// frontend/backend wire protocol (version 3.0): transport framing, message
// encoding/decoding, startup and authentication negotiation (including TLS
// upgrade and SASL/SCRAM), the simple and extended query flows with
// server-side statement/portal caching, transaction and session state
// tracking, and out-of-band query cancellation and asynchronous
// notifications.
//
// pgconn is deliberately low-level: it knows nothing about SQL value
// marshalling beyond the Oid/format-code plumbing required by the wire
// format itself, and nothing about connection pooling or URL parsing beyond
// populating a Config. A database/sql driver or any other user-facing API is
// expected to sit on top of it.
package pgconn
