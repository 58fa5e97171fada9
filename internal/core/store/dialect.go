package store

import (
	"strconv"
	"strings"
)

// dialect captures the few places where SQLite/libsql and Postgres differ.
type dialect struct {
	name          string
	numbered      bool
	autoIncrement string
	bigint        string
	smallint      string
	tableExists   string
}

var sqliteDialect = dialect{
	name:          "sqlite",
	autoIncrement: "INTEGER PRIMARY KEY AUTOINCREMENT",
	bigint:        "INTEGER",
	smallint:      "INTEGER",
	tableExists:   `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
}

var postgresDialect = dialect{
	name:          "postgres",
	numbered:      true,
	autoIncrement: "BIGSERIAL PRIMARY KEY",
	bigint:        "BIGINT",
	smallint:      "SMALLINT",
	tableExists:   `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`,
}

// rebind rewrites ? placeholders into $n for drivers that need numbered
// parameters. Queries must not carry literal question marks.
func (d dialect) rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// expand fills the column type placeholders used by schema statements.
func (d dialect) expand(stmt string) string {
	return strings.NewReplacer(
		"{serial}", d.autoIncrement,
		"{bigint}", d.bigint,
		"{smallint}", d.smallint,
	).Replace(stmt)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
