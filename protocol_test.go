package pgconn

import (
	"testing"

	"github.com/pgwire/pgconn/codes"
	"github.com/pgwire/pgconn/errors"
	"github.com/pgwire/pgconn/internal/buffer"
)

// buildFieldStream lays out fields in the wire format decodeNoticeFields
// expects: repeated (tag byte, NUL-terminated value) pairs, terminated by a
// zero byte. Built directly rather than through buffer.Writer since the
// tagged-message framing it adds is irrelevant here; decodeErrorResponse
// only ever sees the field stream itself, with the tag/length already
// consumed by ReadTypedMsg.
func buildFieldStream(fields map[string]string) *buffer.Reader {
	var raw []byte
	for k, v := range fields {
		raw = append(raw, k[0])
		raw = append(raw, []byte(v)...)
		raw = append(raw, 0)
	}
	raw = append(raw, 0)
	return &buffer.Reader{Msg: raw}
}

func TestDecodeErrorResponsePopulatesAllKnownFields(t *testing.T) {
	reader := buildFieldStream(map[string]string{
		"S": "ERROR",
		"C": "23505",
		"M": "duplicate key value violates unique constraint",
		"D": "Key (id)=(1) already exists.",
		"H": "try a different id",
		"n": "users_pkey",
	})

	pgErr, err := decodeErrorResponse(reader)
	if err != nil {
		t.Fatalf("decodeErrorResponse: %v", err)
	}
	if pgErr.Severity != "ERROR" || pgErr.Code != codes.Code("23505") {
		t.Fatalf("unexpected severity/code: %+v", pgErr)
	}
	if pgErr.ConstraintName != "users_pkey" {
		t.Fatalf("unexpected constraint name: %q", pgErr.ConstraintName)
	}
}

func TestPgErrorErrorStringIncludesDetailWhenPresent(t *testing.T) {
	withDetail := &PgError{Message: "boom", Code: "42601", Detail: "more context"}
	if got := withDetail.Error(); got != "pgconn: boom (SQLSTATE 42601): more context" {
		t.Fatalf("unexpected error string: %q", got)
	}

	withoutDetail := &PgError{Message: "boom", Code: "42601"}
	if got := withoutDetail.Error(); got != "pgconn: boom (SQLSTATE 42601)" {
		t.Fatalf("unexpected error string: %q", got)
	}
}

func TestPgErrorAsDecoratedRoundTripsThroughErrorsPackage(t *testing.T) {
	pgErr := &PgError{
		Severity:       "ERROR",
		Code:           codes.Code("23505"),
		Message:        "duplicate key",
		Hint:           "try again",
		ConstraintName: "users_pkey",
	}
	decorated := pgErr.AsDecorated()

	if got := errors.GetCode(decorated); got != codes.Code("23505") {
		t.Fatalf("unexpected code: %v", got)
	}
	if got := errors.GetHint(decorated); got != "try again" {
		t.Fatalf("unexpected hint: %q", got)
	}
	if got := errors.GetConstraintName(decorated); got != "users_pkey" {
		t.Fatalf("unexpected constraint name: %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&PgError{Code: codes.SerializationFailure}, true},
		{&PgError{Code: codes.DeadlockDetected}, true},
		{&PgError{Code: codes.FeatureNotSupported}, true},
		{&PgError{Code: "42601"}, false},
		{nil, false},
		{errNotAPgError{}, false},
	}
	for _, c := range cases {
		if got := IsRetryable(c.err); got != c.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

type errNotAPgError struct{}

func (errNotAPgError) Error() string { return "not a pg error" }
