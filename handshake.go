package pgconn

import (
	"context"
	"fmt"

	"github.com/pgwire/pgconn/internal/types"
)

// startupParameters are the StartupMessage parameters sent by every client,
// beyond "user" and "database" which get their own dedicated Config fields.
const (
	paramClientEncoding = "client_encoding"
	paramDateStyle      = "DateStyle"
	paramApplicationNm  = "application_name"
)

// sendStartup writes the StartupMessage (the first message on a freshly
// dialed, possibly TLS-upgraded, connection): protocol version 3.0 followed
// by a list of NUL-terminated key/value pairs, terminated by an empty key.
func (t *transport) sendStartup(cfg *Config) error {
	t.writer.StartUntyped()
	t.writer.AddInt32(int32(types.Version30))

	write := func(k, v string) {
		t.writer.AddCString(k)
		t.writer.AddCString(v)
	}

	write("user", cfg.User)
	if cfg.Database != "" {
		write("database", cfg.Database)
	}
	write(paramClientEncoding, "UTF8")
	write(paramDateStyle, "ISO")
	write("extra_float_digits", "2")
	if cfg.ApplicationName != "" {
		write(paramApplicationNm, cfg.ApplicationName)
	}
	if cfg.Replication != "" {
		write("replication", cfg.Replication)
	}

	for k, v := range cfg.RuntimeParams {
		write(k, v)
	}

	t.writer.AddNullTerminate() // terminating empty key

	return t.writer.End()
}

// sendCancelRequest writes the untagged CancelRequest message on a fresh,
// short-lived transport dedicated to cancellation (spec.md C6): the special
// version code, the target backend's process ID and secret key. No response
// is expected; the backend simply closes the connection once handled.
func (t *transport) sendCancelRequest(processID, secretKey int32) error {
	t.writer.StartUntyped()
	t.writer.AddInt32(int32(types.VersionCancel))
	t.writer.AddInt32(processID)
	t.writer.AddInt32(secretKey)
	return t.writer.End()
}

// backendKeyData carries the process ID and secret key the backend assigns
// at startup (BackendKeyData message), needed later to issue a CancelRequest.
type backendKeyData struct {
	ProcessID int32
	SecretKey int32
}

// startupResult accumulates everything observed while draining messages
// between Authentication-OK and the first ReadyForQuery.
type startupResult struct {
	BackendKey backendKeyData
	Parameters map[string]string
	TxStatus   types.TransactionStatus
}

// drainStartup reads backend messages following successful authentication
// until ReadyForQuery, collecting ParameterStatus and BackendKeyData along
// the way. NoticeResponse is logged and skipped; anything else unexpected is
// a protocol error.
func (t *transport) drainStartup(ctx context.Context) (*startupResult, error) {
	result := &startupResult{Parameters: map[string]string{}}

	for {
		tag, _, err := t.reader.ReadTypedMsg()
		if err != nil {
			return nil, fmt.Errorf("pgconn: reading startup response: %w", err)
		}

		switch tag {
		case types.BackendParameterStatus:
			key, err := t.reader.GetString()
			if err != nil {
				return nil, err
			}
			value, err := t.reader.GetString()
			if err != nil {
				return nil, err
			}
			result.Parameters[key] = value

		case types.BackendBackendKeyData:
			pid, err := t.reader.GetInt32()
			if err != nil {
				return nil, err
			}
			secret, err := t.reader.GetInt32()
			if err != nil {
				return nil, err
			}
			result.BackendKey = backendKeyData{ProcessID: pid, SecretKey: secret}

		case types.BackendNoticeResponse:
			notice, err := decodeNoticeFields(t.reader)
			if err != nil {
				return nil, err
			}
			t.logger.Info("notice during startup", "message", notice["M"])

		case types.BackendReady:
			status, err := t.reader.GetByte()
			if err != nil {
				return nil, err
			}
			result.TxStatus = types.TransactionStatus(status)
			return result, nil

		case types.BackendErrorResponse:
			pgErr, err := decodeErrorResponse(t.reader)
			if err != nil {
				return nil, err
			}
			return nil, pgErr

		default:
			return nil, fmt.Errorf("pgconn: unexpected message %s during startup", tag)
		}
	}
}
