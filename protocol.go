package pgconn

import (
	"fmt"

	"github.com/pgwire/pgconn/codes"
	"github.com/pgwire/pgconn/errors"
	"github.com/pgwire/pgconn/internal/buffer"
)

// errField identifies a single field within an ErrorResponse/NoticeResponse
// message. https://www.postgresql.org/docs/current/protocol-error-fields.html
type errField byte

const (
	errFieldSeverity       errField = 'S'
	errFieldSeverityNonloc errField = 'V'
	errFieldSQLState       errField = 'C'
	errFieldMsgPrimary     errField = 'M'
	errFieldDetail         errField = 'D'
	errFieldHint           errField = 'H'
	errFieldPosition       errField = 'P'
	errFieldInternalPos    errField = 'p'
	errFieldInternalQuery  errField = 'q'
	errFieldWhere          errField = 'W'
	errFieldSchemaName     errField = 's'
	errFieldTableName      errField = 't'
	errFieldColumnName     errField = 'c'
	errFieldDataTypeName   errField = 'd'
	errFieldConstraintName errField = 'n'
	errFieldSrcFile        errField = 'F'
	errFieldSrcLine        errField = 'L'
	errFieldSrcFunction    errField = 'R'
)

// PgError is a fully decoded ErrorResponse/NoticeResponse from the backend.
// It satisfies the error interface and, via Unwrap-compatible accessors,
// plugs into the same WithCode/WithSeverity/... decorator chain used
// elsewhere in this module so application code can treat backend-raised and
// driver-raised errors identically.
type PgError struct {
	Severity       string
	Code           codes.Code
	Message        string
	Detail         string
	Hint           string
	Position       string
	InternalQuery  string
	Where          string
	SchemaName     string
	TableName      string
	ColumnName     string
	DataTypeName   string
	ConstraintName string
	File           string
	Line           string
	Routine        string
}

func (e *PgError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("pgconn: %s (SQLSTATE %s): %s", e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("pgconn: %s (SQLSTATE %s)", e.Message, e.Code)
}

// AsDecorated converts the PgError into the decorator-chain representation
// used throughout the rest of the driver, so a caller that only knows about
// errors.GetCode/errors.GetSeverity still works against a server-raised error.
func (e *PgError) AsDecorated() error {
	var err error = fmt.Errorf("%s", e.Message)
	err = errors.WithCode(err, e.Code)
	err = errors.WithSeverity(err, errors.Severity(e.Severity))
	if e.Hint != "" {
		err = errors.WithHint(err, e.Hint)
	}
	if e.Detail != "" {
		err = errors.WithDetail(err, e.Detail)
	}
	if e.ConstraintName != "" {
		err = errors.WithConstraintName(err, e.ConstraintName)
	}
	return err
}

// decodeErrorResponse decodes the field stream of an ErrorResponse message.
// The caller must have already consumed the tag byte via ReadTypedMsg.
func decodeErrorResponse(reader *buffer.Reader) (*PgError, error) {
	fields, err := decodeNoticeFields(reader)
	if err != nil {
		return nil, err
	}

	return &PgError{
		Severity:       fields["S"],
		Code:           codes.Code(fields["C"]),
		Message:        fields["M"],
		Detail:         fields["D"],
		Hint:           fields["H"],
		Position:       fields["P"],
		InternalQuery:  fields["q"],
		Where:          fields["W"],
		SchemaName:     fields["s"],
		TableName:      fields["t"],
		ColumnName:     fields["c"],
		DataTypeName:   fields["d"],
		ConstraintName: fields["n"],
		File:           fields["F"],
		Line:           fields["L"],
		Routine:        fields["R"],
	}, nil
}

// decodeNoticeFields reads the repeated (byte tag, NUL-terminated string)
// pairs shared by ErrorResponse and NoticeResponse, terminated by a zero
// byte, into a map keyed by the single-character field tag.
func decodeNoticeFields(reader *buffer.Reader) (map[string]string, error) {
	fields := map[string]string{}

	for {
		tag, err := reader.GetByte()
		if err != nil {
			return nil, err
		}
		if tag == 0 {
			return fields, nil
		}

		value, err := reader.GetString()
		if err != nil {
			return nil, err
		}
		fields[string(tag)] = value
	}
}

// IsRetryable reports whether err is a *PgError for a backend condition where
// the driver may safely retry the operation that produced it:
// feature_not_supported (0A000, the class of a cached-plan invalidation
// after concurrent DDL; any 0A000 error counts, whatever its message),
// serialization failures, and deadlocks.
// It does not retry on its own; callers decide whether and how.
func IsRetryable(err error) bool {
	pgErr, ok := err.(*PgError)
	if !ok {
		return false
	}

	switch pgErr.Code {
	case codes.SerializationFailure, codes.DeadlockDetected, codes.FeatureNotSupported:
		return true
	default:
		return false
	}
}
