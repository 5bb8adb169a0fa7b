package pgconn

import (
	"fmt"

	"github.com/pgwire/pgconn/internal/buffer"
)

// Row is an ordered sequence of nullable byte slices, one per column, as
// described in spec.md's Data Model. A cell's transfer format is not stored
// in the Row; it is the Format of the matching FieldDescription. A nil entry
// represents SQL NULL.
type Row [][]byte

// decodeRowDescription decodes a RowDescription message body into its field
// descriptions. The caller must have already consumed the tag via
// ReadTypedMsg.
func decodeRowDescription(reader *buffer.Reader) ([]FieldDescription, error) {
	count, err := reader.GetInt16()
	if err != nil {
		return nil, err
	}

	fields := make([]FieldDescription, count)
	for i := range fields {
		name, err := reader.GetString()
		if err != nil {
			return nil, err
		}
		tableOid, err := reader.GetUint32()
		if err != nil {
			return nil, err
		}
		attrNum, err := reader.GetInt16()
		if err != nil {
			return nil, err
		}
		typeOid, err := reader.GetUint32()
		if err != nil {
			return nil, err
		}
		typeSize, err := reader.GetInt16()
		if err != nil {
			return nil, err
		}
		typeMod, err := reader.GetInt32()
		if err != nil {
			return nil, err
		}
		format, err := reader.GetInt16()
		if err != nil {
			return nil, err
		}

		fields[i] = FieldDescription{
			Name:             name,
			TableOid:         tableOid,
			ColumnAttrNumber: attrNum,
			DataTypeOid:      typeOid,
			DataTypeSize:     typeSize,
			TypeModifier:     typeMod,
			Format:           format,
		}
	}

	return fields, nil
}

// decodeDataRow decodes a DataRow message body into a Row. The caller must
// have already consumed the tag via ReadTypedMsg.
func decodeDataRow(reader *buffer.Reader) (Row, error) {
	count, err := reader.GetInt16()
	if err != nil {
		return nil, err
	}

	row := make(Row, count)
	for i := range row {
		n, err := reader.GetInt32()
		if err != nil {
			return nil, err
		}
		val, err := reader.GetBytes(int(n))
		if err != nil {
			return nil, err
		}
		row[i] = val
	}

	return row, nil
}

// decodeParameterDescription decodes a ParameterDescription message body
// (the param type Oids resulting from a Describe(statement)).
func decodeParameterDescription(reader *buffer.Reader) ([]uint32, error) {
	count, err := reader.GetInt16()
	if err != nil {
		return nil, err
	}

	oids := make([]uint32, count)
	for i := range oids {
		v, err := reader.GetUint32()
		if err != nil {
			return nil, err
		}
		oids[i] = v
	}

	return oids, nil
}

// CommandTag is the parsed form of a CommandComplete message, e.g.
// "INSERT 0 3" → {Tag: "INSERT", RowsAffected: 3}.
type CommandTag struct {
	Tag          string
	RowsAffected int64
}

func decodeCommandComplete(reader *buffer.Reader) (CommandTag, error) {
	raw, err := reader.GetString()
	if err != nil {
		return CommandTag{}, err
	}
	return parseCommandTag(raw)
}

func parseCommandTag(raw string) (CommandTag, error) {
	fields := splitFields(raw)
	if len(fields) == 0 {
		return CommandTag{}, fmt.Errorf("pgconn: empty command tag")
	}

	tag := CommandTag{Tag: fields[0]}
	if len(fields) == 1 {
		return tag, nil
	}

	last := fields[len(fields)-1]
	n, err := parseInt(last)
	if err == nil {
		tag.RowsAffected = n
	}

	return tag, nil
}

func splitFields(s string) []string {
	var fields []string
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != ' ' {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			fields = append(fields, s[start:i])
			start = -1
		}
	}
	return fields
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	var n int64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("not a number: %q", s)
		}
		n = n*10 + int64(s[i]-'0')
	}
	return n, nil
}

// ResultReader is the caller-facing iterator over one SubQuery's result, as
// produced by the query engine. It is advanced by Next and exposes the
// current Row plus terminal CommandTag/error once exhausted.
type ResultReader struct {
	fields []FieldDescription
	rows   chan rowOrErr
	done   chan struct{}

	current Row
	tag     CommandTag
	err     error
	closed  bool
}

type rowOrErr struct {
	row Row
	err error
	tag *CommandTag
}

func newResultReader(fields []FieldDescription) *ResultReader {
	return &ResultReader{
		fields: fields,
		rows:   make(chan rowOrErr, 16),
		done:   make(chan struct{}),
	}
}

// FieldDescriptions returns the result's column descriptors.
func (r *ResultReader) FieldDescriptions() []FieldDescription { return r.fields }

// Next advances to the next row, returning false at the end of the result
// (check Err for a non-nil terminal error).
func (r *ResultReader) Next() bool {
	if r.closed {
		return false
	}

	item, ok := <-r.rows
	if !ok {
		r.closed = true
		return false
	}

	if item.err != nil {
		r.err = item.err
		r.closed = true
		close(r.done)
		return false
	}

	if item.tag != nil {
		r.tag = *item.tag
		r.closed = true
		close(r.done)
		return false
	}

	r.current = item.row
	return true
}

func (r *ResultReader) Row() Row           { return r.current }
func (r *ResultReader) CommandTag() CommandTag { return r.tag }
func (r *ResultReader) Err() error         { return r.err }

func (r *ResultReader) emitRow(row Row) {
	r.rows <- rowOrErr{row: row}
}

func (r *ResultReader) emitDone(tag CommandTag) {
	r.rows <- rowOrErr{tag: &tag}
	close(r.rows)
}

func (r *ResultReader) emitError(err error) {
	r.rows <- rowOrErr{err: err}
	close(r.rows)
}

// deliverResult hands reader to onResult on its own goroutine and returns a
// channel that closes once that call returns. The wire-reading goroutine
// that owns reader's emitRow/emitDone/emitError calls must never invoke
// onResult directly: a caller that drains the reader in place (for r.Next()
// {}) would otherwise block forever waiting for rows nothing can ever push,
// since the one goroutine available to push them is the same one parked
// inside the callback. Running onResult concurrently lets the reply loop
// keep emitting into reader.rows while the callback drains it.
func deliverResult(reader *ResultReader, onResult func(*ResultReader)) <-chan struct{} {
	callbackDone := make(chan struct{})
	go func() {
		defer close(callbackDone)
		onResult(reader)
	}()
	return callbackDone
}
