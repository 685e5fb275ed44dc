package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DialectFor returns the dialect of a gorm connection.
func DialectFor(db *gorm.DB) (Dialect, error) {
	switch name := db.Dialector.Name(); name {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database dialect %q", name)
	}
}

// Quote quotes an identifier.
func (d Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Column renders alias.column.
func (d Dialect) Column(alias, column string) string {
	return d.Quote(alias) + "." + d.Quote(column)
}

// Rebind converts ? placeholders to the dialect's form.
func (d Dialect) Rebind(query string) string {
	if d == DialectPostgres {
		return convertToPostgresPlaceholders(query)
	}
	return query
}

// TimeArg converts t to a statement argument. SQLite stores times as text,
// so a fixed width UTC layout keeps text comparison chronological.
func (d Dialect) TimeArg(t time.Time) any {
	if d == DialectSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// JSONExtract renders the text or numeric value at path inside a JSON column.
func (d Dialect) JSONExtract(column string, path []string, numeric bool) string {
	if d == DialectPostgres {
		expr := fmt.Sprintf("(%s::jsonb #>> '{%s}')", column, strings.Join(escapeJSONPath(path, `"`), ","))
		if numeric {
			return "CAST(" + expr + " AS DOUBLE PRECISION)"
		}
		return expr
	}
	expr := fmt.Sprintf("json_extract(%s, '$.%s')", column, strings.Join(escapeJSONPath(path, `"`), "."))
	if numeric {
		return "CAST(" + expr + " AS REAL)"
	}
	return expr
}

func escapeJSONPath(path []string, quote string) []string {
	out := make([]string, len(path))
	for i, p := range path {
		p = strings.ReplaceAll(p, "'", "''")
		if strings.ContainsAny(p, ".,{}\" ") {
			p = quote + strings.ReplaceAll(p, `"`, `\"`) + quote
		}
		out[i] = p
	}
	return out
}

// JSONBoolArg returns the value a JSON boolean extracted as text compares to.
func (d Dialect) JSONBoolArg(b bool) any {
	if d == DialectPostgres {
		if b {
			return "true"
		}
		return "false"
	}
	if b {
		return 1
	}
	return 0
}

// Position renders the 1-based index of needle in haystack, 0 if absent.
func (d Dialect) Position(haystack, needle string) string {
	if d == DialectPostgres {
		return fmt.Sprintf("strpos(%s, %s)", haystack, needle)
	}
	return fmt.Sprintf("instr(%s, %s)", haystack, needle)
}

// Extract renders one component of a timestamp as an integer.
func (d Dialect) Extract(part, expr string) (string, error) {
	if d == DialectPostgres {
		switch part {
		case "year", "month", "day", "hour", "minute":
			return fmt.Sprintf("CAST(EXTRACT(%s FROM %s) AS INTEGER)", strings.ToUpper(part), expr), nil
		case "second":
			return fmt.Sprintf("CAST(FLOOR(EXTRACT(SECOND FROM %s)) AS INTEGER)", expr), nil
		}
	} else {
		formats := map[string]string{"year": "%Y", "month": "%m", "day": "%d", "hour": "%H", "minute": "%M", "second": "%S"}
		if f, ok := formats[part]; ok {
			return fmt.Sprintf("CAST(strftime('%s', %s) AS INTEGER)", f, expr), nil
		}
	}
	return "", fmt.Errorf("unsupported time function %s", part)
}

// PasswordExpr returns the expression and arguments storing a one-way hash
// of secret. Postgres hashes server side with pgcrypto, SQLite gets a
// bcrypt hash computed here.
func (d Dialect) PasswordExpr(secret string) (SQLExpr, error) {
	if d == DialectPostgres {
		return SQLExpr{SQL: "crypt(?, gen_salt('bf', 12))", Args: []any{secret}}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return SQLExpr{}, fmt.Errorf("failed to hash password: %w", err)
	}
	return SQLExpr{SQL: "?", Args: []any{string(hash)}}, nil
}

// convertToPostgresPlaceholders converts ? placeholders to $1, $2, ... for PostgreSQL.
// Question marks inside string literals are left alone.
func convertToPostgresPlaceholders(query string) string {
	var result strings.Builder
	placeholderNum := 1
	inString := false

	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inString = !inString
			result.WriteByte(c)
		case c == '?' && !inString:
			result.WriteString(fmt.Sprintf("$%d", placeholderNum))
			placeholderNum++
		default:
			result.WriteByte(c)
		}
	}

	return result.String()
}
