package pgconn

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgpassfile"
	"github.com/jackc/pgservicefile"
)

// SSLMode controls whether and how a TLS handshake is negotiated with the
// server before the startup packet is sent.
type SSLMode string

const (
	SSLDisable    SSLMode = "disable"
	SSLAllow      SSLMode = "allow"
	SSLPrefer     SSLMode = "prefer"
	SSLRequire    SSLMode = "require"
	SSLVerifyCA   SSLMode = "verify-ca"
	SSLVerifyFull SSLMode = "verify-full"
)

// GSSEncMode controls GSSAPI encryption negotiation, independent of TLS.
type GSSEncMode string

const (
	GSSDisable GSSEncMode = "disable"
	GSSAllow   GSSEncMode = "allow"
	GSSPrefer  GSSEncMode = "prefer"
	GSSRequire GSSEncMode = "require"
)

// QueryMode selects which query flow (C4) is used to execute a statement.
type QueryMode string

const (
	// QueryModeSimple is accepted and stored, but ExtendedQuery, Execute and
	// ExecuteBatch still use the Extended Query flow in this mode; SimpleQuery
	// is the Simple Query entry point in every mode.
	QueryModeSimple QueryMode = "simple"
	// QueryModeExtended always uses the Extended Query flow, preparing every
	// statement that crosses the prepare threshold.
	QueryModeExtended QueryMode = "extended"
	// QueryModeExtendedForPrepared is accepted and stored; it behaves like
	// QueryModeExtended, and ad-hoc statements are not sent through the
	// Simple Query flow.
	QueryModeExtendedForPrepared QueryMode = "extendedForPrepared"
	// QueryModeExtendedCacheEverything behaves like QueryModeExtended but
	// ignores the usage count: every distinct SQL string is prepared and
	// cached on first use, as long as PrepareThreshold is positive (0 and -1
	// keep every execution unnamed).
	QueryModeExtendedCacheEverything QueryMode = "extendedCacheEverything"
)

// ReadOnlyMode controls how Session.SetReadOnly(true) is applied.
type ReadOnlyMode string

const (
	// ReadOnlyIgnore records the read-only intent but never sends it to the server.
	ReadOnlyIgnore ReadOnlyMode = "ignore"
	// ReadOnlyTransaction applies read-only as `BEGIN READ ONLY` on the next
	// transaction start.
	ReadOnlyTransaction ReadOnlyMode = "transaction"
	// ReadOnlyAlways is accepted as a setting, but nothing is sent on its
	// account: `SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY` is not
	// issued, and SetReadOnly(true) has no wire effect in this mode.
	ReadOnlyAlways ReadOnlyMode = "always"
)

// AutoSaveMode controls whether a SAVEPOINT is taken around each statement in
// a transaction so a single statement failure doesn't abort the whole
// transaction.
type AutoSaveMode string

const (
	AutoSaveNever        AutoSaveMode = "never"
	AutoSaveConservative AutoSaveMode = "conservative"
	AutoSaveAlways       AutoSaveMode = "always"
)

// TargetServerType restricts which member of a multi-host connection string
// a connection attempt is allowed to land on.
type TargetServerType string

const (
	TargetAny            TargetServerType = "any"
	TargetPrimary        TargetServerType = "primary"
	TargetSecondary      TargetServerType = "secondary"
	TargetPreferSecondary TargetServerType = "preferSecondary"
	TargetPreferPrimary  TargetServerType = "preferPrimary"
)

// StringType controls the Oid bound to string-valued parameters lacking an
// explicit type.
type StringType string

const (
	StringUnspecified StringType = "unspecified"
	StringVarchar     StringType = "varchar"
)

// Host is a single host:port pair from a multi-host connection string.
type Host struct {
	Host string
	Port uint16
}

// Config holds every connection property from spec.md §6. It is built by
// ParseConfig or directly via ConfigOption functions passed to NewConfig, and
// consumed once by Connect; mutating a Config after a Connection has been
// established using it has no effect on that connection.
type Config struct {
	Hosts    []Host
	User     string
	Password string
	Database string

	SSLMode     SSLMode
	TLSConfig   *tls.Config // non-nil overrides the SSLMode-derived default
	GSSEncMode  GSSEncMode

	ApplicationName  string
	RuntimeParams    map[string]string // additional StartupMessage parameters, e.g. "options"
	Replication      string            // "", "true" or "database"

	PreferQueryMode QueryMode
	// PrepareThreshold is the number of executions of distinct SQL after
	// which a server-side named prepare is issued. 0 disables caching
	// (always one-shot unnamed). -1 forces unnamed binary execution without
	// ever naming a statement. 1 prepares on first use.
	PrepareThreshold int
	PreparedStatementCacheQueries   int
	PreparedStatementCacheSizeMiB   int

	BinaryTransferEnable []uint32 // additional Oids to force binary for
	BinaryTransferDisable []uint32 // Oids to force text for, overriding the default set

	DefaultRowFetchSize int

	StringType StringType

	ReadOnly     bool
	ReadOnlyMode ReadOnlyMode

	AutoSave AutoSaveMode

	ReWriteBatchedInserts bool

	SocketTimeout      time.Duration
	ConnectTimeout     time.Duration
	CancelSignalTimeout time.Duration
	LoginTimeout       time.Duration

	TargetServerType TargetServerType
	HostRecheckPeriod time.Duration

	// FlushCacheOnDeallocate is stored in Config but not read by the
	// connection: setting it does not cause any DEALLOCATE ALL. The cache is
	// flushed only by FlushStatementCache, which
	// ExecuteWithPlanInvalidationRetry calls after a cached-plan invalidation.
	FlushCacheOnDeallocate bool

	// GSSProvider, when set, is used to satisfy a server's GSSAPI/SSPI
	// authentication request. pgconn carries no Kerberos implementation of
	// its own; see GSSProvider in auth.go.
	GSSProvider GSSProvider
}

// ConfigOption configures a Config constructed by NewConfig.
type ConfigOption func(*Config)

// NewConfig builds a Config from sane defaults plus the given options. It
// does not consult the environment or a connection string; use ParseConfig
// for that.
func NewConfig(options ...ConfigOption) *Config {
	cfg := &Config{
		SSLMode:             SSLPrefer,
		GSSEncMode:          GSSDisable,
		PreferQueryMode:     QueryModeExtended,
		PrepareThreshold:    5,
		PreparedStatementCacheQueries: 256,
		PreparedStatementCacheSizeMiB: 5,
		StringType:          StringUnspecified,
		ReadOnlyMode:        ReadOnlyTransaction,
		AutoSave:            AutoSaveNever,
		SocketTimeout:       0,
		ConnectTimeout:      10 * time.Second,
		CancelSignalTimeout: 31 * time.Second,
		LoginTimeout:        10 * time.Second,
		TargetServerType:    TargetAny,
		HostRecheckPeriod:   10 * time.Second,
		RuntimeParams:       map[string]string{},
	}

	for _, opt := range options {
		opt(cfg)
	}

	return cfg
}

func WithHost(host string, port uint16) ConfigOption {
	return func(c *Config) { c.Hosts = append(c.Hosts, Host{Host: host, Port: port}) }
}

func WithUser(user string) ConfigOption { return func(c *Config) { c.User = user } }

func WithPassword(password string) ConfigOption { return func(c *Config) { c.Password = password } }

func WithDatabase(database string) ConfigOption { return func(c *Config) { c.Database = database } }

func WithSSLMode(mode SSLMode) ConfigOption { return func(c *Config) { c.SSLMode = mode } }

func WithApplicationName(name string) ConfigOption {
	return func(c *Config) { c.ApplicationName = name }
}

func WithPreferQueryMode(mode QueryMode) ConfigOption {
	return func(c *Config) { c.PreferQueryMode = mode }
}

func WithPrepareThreshold(n int) ConfigOption {
	return func(c *Config) { c.PrepareThreshold = n }
}

func WithDefaultRowFetchSize(n int) ConfigOption {
	return func(c *Config) { c.DefaultRowFetchSize = n }
}

func WithReadOnlyMode(mode ReadOnlyMode) ConfigOption {
	return func(c *Config) { c.ReadOnlyMode = mode }
}

func WithAutoSave(mode AutoSaveMode) ConfigOption {
	return func(c *Config) { c.AutoSave = mode }
}

func WithReWriteBatchedInserts(enabled bool) ConfigOption {
	return func(c *Config) { c.ReWriteBatchedInserts = enabled }
}

func WithTargetServerType(t TargetServerType) ConfigOption {
	return func(c *Config) { c.TargetServerType = t }
}

func WithGSSProvider(provider GSSProvider) ConfigOption {
	return func(c *Config) { c.GSSProvider = provider }
}

func WithRuntimeParam(key, value string) ConfigOption {
	return func(c *Config) {
		if c.RuntimeParams == nil {
			c.RuntimeParams = map[string]string{}
		}
		c.RuntimeParams[key] = value
	}
}

// ParseConfig parses a PostgreSQL connection string, in either key=value or
// postgres:// URL form, into a Config. A property missing from the string is
// taken from the standard libpq environment variables (PGHOST, PGPORT,
// PGUSER, PGPASSWORD, PGDATABASE, PGSSLMODE) and otherwise keeps NewConfig's
// default; a password still missing after that is looked up in ~/.pgpass.
// ~/.pg_service.conf is not consulted. Pooling and retry behaviour are explicitly out of scope here;
// this only populates Config.
func ParseConfig(dsn string) (*Config, error) {
	cfg := NewConfig()

	var settings map[string]string
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		settings, err = parseURLSettings(dsn)
	} else {
		settings, err = parseDSNSettings(dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("pgconn: invalid connection string: %w", err)
	}

	applyEnvDefaults(settings)
	if err := applySettings(cfg, settings); err != nil {
		return nil, err
	}

	if len(cfg.Hosts) == 0 {
		cfg.Hosts = []Host{{Host: "localhost", Port: 5432}}
	}

	if cfg.Password == "" {
		if pw, ok := lookupPgpass(cfg); ok {
			cfg.Password = pw
		}
	}

	return cfg, nil
}

func parseURLSettings(dsn string) (map[string]string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}

	settings := map[string]string{}
	if u.User != nil {
		settings["user"] = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			settings["password"] = pw
		}
	}

	hosts := []string{}
	ports := []string{}
	for _, hostport := range strings.Split(u.Host, ",") {
		if hostport == "" {
			continue
		}
		h, p, err := net.SplitHostPort(hostport)
		if err != nil {
			h, p = hostport, "5432"
		}
		hosts = append(hosts, h)
		ports = append(ports, p)
	}
	settings["host"] = strings.Join(hosts, ",")
	settings["port"] = strings.Join(ports, ",")

	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		settings["dbname"] = db
	}

	for k, vs := range u.Query() {
		if len(vs) > 0 {
			settings[k] = vs[0]
		}
	}

	return settings, nil
}

func parseDSNSettings(dsn string) (map[string]string, error) {
	settings := map[string]string{}
	dsn = strings.TrimSpace(dsn)

	for len(dsn) > 0 {
		var key, val string
		key, dsn = consumeToken(dsn, '=')
		dsn = strings.TrimLeft(dsn, "= ")
		if strings.HasPrefix(dsn, "'") {
			val, dsn = consumeQuoted(dsn[1:])
		} else {
			val, dsn = consumeToken(dsn, ' ')
		}
		dsn = strings.TrimSpace(dsn)
		if key == "" {
			continue
		}
		settings[key] = val
	}

	return settings, nil
}

func consumeToken(s string, delim byte) (token, rest string) {
	idx := strings.IndexByte(s, delim)
	if idx == -1 {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(s[:idx]), s[idx+1:]
}

func consumeQuoted(s string) (value, rest string) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				b.WriteByte(s[i+1])
				i++
			}
		case '\'':
			return b.String(), s[i+1:]
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), ""
}

func applyEnvDefaults(settings map[string]string) {
	defaults := map[string]string{
		"host":     "PGHOST",
		"port":     "PGPORT",
		"user":     "PGUSER",
		"password": "PGPASSWORD",
		"dbname":   "PGDATABASE",
		"sslmode":  "PGSSLMODE",
	}

	for key, env := range defaults {
		if _, ok := settings[key]; ok {
			continue
		}
		if v := os.Getenv(env); v != "" {
			settings[key] = v
		}
	}

	if _, ok := settings["user"]; !ok {
		if u, err := os.UserHomeDir(); err == nil {
			settings["user"] = filepath.Base(u)
		}
	}
}

func applySettings(cfg *Config, settings map[string]string) error {
	hostsStr, portsStr := settings["host"], settings["port"]
	var hosts, ports []string
	if hostsStr != "" {
		hosts = strings.Split(hostsStr, ",")
	}
	if portsStr != "" {
		ports = strings.Split(portsStr, ",")
	}

	for i, h := range hosts {
		port := uint16(5432)
		if i < len(ports) && ports[i] != "" {
			p, err := strconv.ParseUint(ports[i], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", ports[i], err)
			}
			port = uint16(p)
		}
		cfg.Hosts = append(cfg.Hosts, Host{Host: h, Port: port})
	}

	if v, ok := settings["user"]; ok {
		cfg.User = v
	}
	if v, ok := settings["password"]; ok {
		cfg.Password = v
	}
	if v, ok := settings["dbname"]; ok {
		cfg.Database = v
	}
	if v, ok := settings["sslmode"]; ok {
		cfg.SSLMode = SSLMode(v)
	}
	if v, ok := settings["application_name"]; ok {
		cfg.ApplicationName = v
	}
	if v, ok := settings["replication"]; ok {
		cfg.Replication = v
	}
	if v, ok := settings["target_session_attrs"]; ok {
		cfg.TargetServerType = TargetServerType(v)
	}

	return nil
}

// lookupPgpass consults ~/.pgpass for a matching password line, per libpq's
// rules (exact match, with "*" acting as a wildcard for any field).
func lookupPgpass(cfg *Config) (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil || len(cfg.Hosts) == 0 {
		return "", false
	}

	path := os.Getenv("PGPASSFILE")
	if path == "" {
		path = filepath.Join(home, ".pgpass")
	}

	pf, err := pgpassfile.ReadPassfile(path)
	if err != nil {
		return "", false
	}

	host := cfg.Hosts[0]
	port := strconv.Itoa(int(host.Port))
	pw := pf.FindPassword(host.Host, port, cfg.Database, cfg.User)
	return pw, pw != ""
}

// lookupPgservice reads the named service's settings from the file named by
// PGSERVICEFILE, or else ~/.pg_service.conf, and returns them unmerged.
// Nothing in pgconn calls it; ParseConfig does not recognise a `service`
// parameter.
func lookupPgservice(name string) (map[string]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	path := os.Getenv("PGSERVICEFILE")
	if path == "" {
		path = filepath.Join(home, ".pg_service.conf")
	}

	sf, err := pgservicefile.ReadServicefile(path)
	if err != nil {
		return nil, err
	}

	svc, err := sf.GetService(name)
	if err != nil {
		return nil, err
	}

	return svc.Settings, nil
}
