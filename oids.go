package pgconn

import "github.com/lib/pq/oid"

// FormatCode is the wire transfer format selector carried in Bind's
// parameter/result format lists and in each FieldDescription.
type FormatCode int16

const (
	FormatText   FormatCode = 0
	FormatBinary FormatCode = 1
)

// defaultBinaryOids is the Oid set spec.md §6 names as binary-capable by
// default. Oid values come from github.com/lib/pq's oid package (the same
// generated pg_type catalog table jackc/pgx's own oid package mirrors),
// reused here rather than hand-copying magic numbers.
var defaultBinaryOids = map[oid.Oid]bool{
	oid.T_bytea:       true,
	oid.T_int2:        true,
	oid.T_int4:        true,
	oid.T_int8:        true,
	oid.T_float4:      true,
	oid.T_float8:      true,
	oid.T_numeric:     true,
	oid.T_time:        true,
	oid.T_date:        true,
	oid.T_timetz:      true,
	oid.T_timestamp:   true,
	oid.T_timestamptz: true,
	oid.T_point:       true,
	oid.T_box:         true,
	oid.T_uuid:        true,
	oid.T__bytea:      true,
	oid.T__int2:       true,
	oid.T__int4:       true,
	oid.T__int8:       true,
	oid.T__float4:     true,
	oid.T__float8:     true,
	oid.T__numeric:    true,
	oid.T__time:       true,
	oid.T__date:       true,
	oid.T__timetz:     true,
	oid.T__timestamp:  true,
	oid.T__timestamptz: true,
	oid.T__point:      true,
	oid.T__box:        true,
	oid.T__uuid:       true,
}

// BinaryOidPolicy decides, per Oid, whether values are transferred in
// binary on the receive (server→client) and send (client→server) paths
// independently, per spec.md's Binary Oid policy testable property: the
// decision depends only on the configured sets, fixed at construction.
type BinaryOidPolicy struct {
	receive map[oid.Oid]bool
	send    map[oid.Oid]bool
}

// NewBinaryOidPolicy builds a policy from the default set plus
// BinaryTransferEnable/BinaryTransferDisable overrides. `date` is in the
// default receive set but is removed from the default send set, so date
// parameters go as text unless BinaryTransferEnable lists date; both
// override lists apply to both directions.
func NewBinaryOidPolicy(cfg *Config) *BinaryOidPolicy {
	recv := make(map[oid.Oid]bool, len(defaultBinaryOids))
	send := make(map[oid.Oid]bool, len(defaultBinaryOids))
	for o := range defaultBinaryOids {
		recv[o] = true
		send[o] = true
	}
	delete(send, oid.T_date)

	for _, o := range cfg.BinaryTransferEnable {
		recv[oid.Oid(o)] = true
		send[oid.Oid(o)] = true
	}
	for _, o := range cfg.BinaryTransferDisable {
		delete(recv, oid.Oid(o))
		delete(send, oid.Oid(o))
	}

	return &BinaryOidPolicy{receive: recv, send: send}
}

// UseBinaryForReceive reports whether values of Oid o, flowing from the
// server to the client (DataRow cells), should be requested in binary.
func (p *BinaryOidPolicy) UseBinaryForReceive(o uint32) bool {
	return p.receive[oid.Oid(o)]
}

// UseBinaryForSend reports whether parameter values of Oid o, flowing from
// the client to the server (Bind parameter values), should be sent in
// binary.
func (p *BinaryOidPolicy) UseBinaryForSend(o uint32) bool {
	return p.send[oid.Oid(o)]
}

// FormatFor returns FormatBinary or FormatText for Oid o on the receive
// path, the form most callers need when constructing a Bind's
// resultFormats list.
func (p *BinaryOidPolicy) FormatFor(o uint32) FormatCode {
	if p.UseBinaryForReceive(o) {
		return FormatBinary
	}
	return FormatText
}
