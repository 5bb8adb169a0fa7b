package pgconn

import "strings"

// StatementKind classifies a SubQuery by its leading keyword, just enough to
// drive batch-rewrite and suppress-begin decisions; this is never a real SQL
// parser (spec.md Non-goals).
type StatementKind int

const (
	KindOther StatementKind = iota
	KindSelect
	KindInsert
	KindUpdate
	KindDelete
	KindMerge
	KindDDL
	KindTransactionControl
	KindSetSession
)

// SubQuery is one top-level statement out of a (possibly multi-statement)
// client SQL string, as described in spec.md's Cached Query data model.
type SubQuery struct {
	// SQL is the statement text with `?` placeholders rewritten to `$n`.
	SQL string
	// ParamCount is the number of distinct `$n` placeholders.
	ParamCount int
	Kind       StatementKind
	// HasReturning reports whether the text RETURNING occurs anywhere in
	// the statement (see hasTopLevelReturning).
	HasReturning bool
}

// ScanStatements splits sql on top-level semicolons (ignoring those inside
// string/identifier literals and comments), rewrites `?` placeholders to
// `$n` within each piece, and classifies each resulting SubQuery. A client
// that already uses `$n` placeholders is passed through unchanged except for
// splitting and classification.
func ScanStatements(sql string) []SubQuery {
	pieces := splitTopLevel(sql, ';')

	var out []SubQuery
	for _, piece := range pieces {
		trimmed := strings.TrimSpace(piece)
		if trimmed == "" {
			continue
		}

		rewritten, paramCount := rewritePlaceholders(trimmed)
		out = append(out, SubQuery{
			SQL:          rewritten,
			ParamCount:   paramCount,
			Kind:         classify(trimmed),
			HasReturning: hasTopLevelReturning(trimmed),
		})
	}

	return out
}

// splitTopLevel splits s on delim wherever it occurs outside single-quoted
// strings, double-quoted identifiers, dollar-quoted strings, and
// line/block comments.
func splitTopLevel(s string, delim byte) []string {
	var pieces []string
	var buf strings.Builder

	i := 0
	for i < len(s) {
		c := s[i]

		switch {
		case c == '\'':
			end := scanQuoted(s, i, '\'')
			buf.WriteString(s[i:end])
			i = end
			continue

		case c == '"':
			end := scanQuoted(s, i, '"')
			buf.WriteString(s[i:end])
			i = end
			continue

		case c == '$' && i+1 < len(s) && isDollarQuoteStart(s, i):
			end := scanDollarQuote(s, i)
			buf.WriteString(s[i:end])
			i = end
			continue

		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			end := strings.IndexByte(s[i:], '\n')
			if end == -1 {
				buf.WriteString(s[i:])
				i = len(s)
			} else {
				buf.WriteString(s[i : i+end+1])
				i += end + 1
			}
			continue

		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end == -1 {
				buf.WriteString(s[i:])
				i = len(s)
			} else {
				stop := i + 2 + end + 2
				buf.WriteString(s[i:stop])
				i = stop
			}
			continue

		case c == delim:
			pieces = append(pieces, buf.String())
			buf.Reset()
			i++
			continue

		default:
			buf.WriteByte(c)
			i++
		}
	}

	if strings.TrimSpace(buf.String()) != "" {
		pieces = append(pieces, buf.String())
	}

	return pieces
}

// scanQuoted returns the index just past the closing quote matching the
// quote char at s[start], honoring `''`/`""` doubled-quote escapes.
func scanQuoted(s string, start int, quote byte) int {
	i := start + 1
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(s)
}

func isDollarQuoteStart(s string, i int) bool {
	j := i + 1
	for j < len(s) && (isAlnum(s[j]) || s[j] == '_') {
		j++
	}
	return j < len(s) && s[j] == '$'
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// scanDollarQuote returns the index just past the matching closing tag of a
// dollar-quoted string starting at s[start] == '$'.
func scanDollarQuote(s string, start int) int {
	j := start + 1
	for j < len(s) && (isAlnum(s[j]) || s[j] == '_') {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return start + 1
	}
	tag := s[start : j+1]

	closeIdx := strings.Index(s[j+1:], tag)
	if closeIdx == -1 {
		return len(s)
	}
	return j + 1 + closeIdx + len(tag)
}

// rewritePlaceholders replaces `?` occurring outside string/identifier
// literals with sequential `$1`, `$2`, ... placeholders. If the statement
// already contains a `$n` placeholder, it is assumed to already be in native
// form and is returned unchanged.
func rewritePlaceholders(sql string) (string, int) {
	if strings.ContainsAny(sql, "$") {
		return sql, countDollarParams(sql)
	}

	var buf strings.Builder
	n := 0

	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'':
			end := scanQuoted(sql, i, '\'')
			buf.WriteString(sql[i:end])
			i = end
		case c == '"':
			end := scanQuoted(sql, i, '"')
			buf.WriteString(sql[i:end])
			i = end
		case c == '?':
			n++
			buf.WriteString("$")
			buf.WriteString(itoa(n))
			i++
		default:
			buf.WriteByte(c)
			i++
		}
	}

	return buf.String(), n
}

func countDollarParams(sql string) int {
	max := 0
	i := 0
	for i < len(sql) {
		if sql[i] == '$' && i+1 < len(sql) && sql[i+1] >= '0' && sql[i+1] <= '9' {
			j := i + 1
			v := 0
			for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
				v = v*10 + int(sql[j]-'0')
				j++
			}
			if v > max {
				max = v
			}
			i = j
			continue
		}
		i++
	}
	return max
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

func classify(sql string) StatementKind {
	word := strings.ToUpper(firstWord(sql))

	switch word {
	case "SELECT", "WITH", "TABLE":
		return KindSelect
	case "INSERT":
		return KindInsert
	case "UPDATE":
		return KindUpdate
	case "DELETE":
		return KindDelete
	case "MERGE":
		return KindMerge
	case "BEGIN", "START", "COMMIT", "ROLLBACK", "SAVEPOINT", "RELEASE", "END":
		return KindTransactionControl
	case "SET":
		return KindSetSession
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "GRANT", "REVOKE", "COMMENT":
		return KindDDL
	default:
		return KindOther
	}
}

func firstWord(sql string) string {
	sql = strings.TrimLeft(sql, " \t\r\n(")
	i := 0
	for i < len(sql) && (isAlnum(sql[i]) || sql[i] == '_') {
		i++
	}
	return sql[:i]
}

// hasTopLevelReturning reports whether the text RETURNING occurs anywhere in
// sql, case-insensitively. Quoted literals, identifiers, comments and
// parenthesised sub-statements are not excluded, so a RETURNING that appears
// only inside one of them also counts.
func hasTopLevelReturning(sql string) bool {
	upper := strings.ToUpper(sql)
	return strings.Contains(upper, "RETURNING")
}

// IsUtilityStatement reports whether kind is one of the statement kinds
// spec.md §4.4 calls out as never receiving an implicit BEGIN (suppress-begin).
func (k StatementKind) IsUtilityStatement() bool {
	return k == KindTransactionControl || k == KindSetSession
}
