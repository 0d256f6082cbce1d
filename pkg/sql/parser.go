package sql

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"chunkdb/pkg/common"
	"chunkdb/pkg/core"
)

// Row is the record shape the dialect works on: chunk, item, integer value.
type Row = common.Triple[string, string, int64]

// AllChunks selects every chunk.
const AllChunks = "*"

// SelectStmt represents a parsed SELECT * FROM chunk statement.
type SelectStmt struct {
	Chunk string
	Where *WhereClause
	Limit int
}

type WhereClause struct {
	Field string // value, item or sign
	Op    string
	Int   int64
	Text  string
}

var selectRe = regexp.MustCompile(`(?i)^SELECT\s+\*\s+FROM\s+(\*|'[^']+'|[^\s;']+)` +
	`(?:\s+WHERE\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*(=|!=|>=|<=|>|<)\s*(-?\d+|'[^']*'|[a-zA-Z_][a-zA-Z0-9_]*))?` +
	`(?:\s+LIMIT\s+(\d+))?\s*$`)

// Parse parses simple SQL:
// "SELECT * FROM chunk"
// "SELECT * FROM * WHERE value >= 100"
// "SELECT * FROM chunk WHERE item = 'a' LIMIT 10"
// "SELECT * FROM * WHERE sign = negative"
// "SELECT * FROM 'eu west' LIMIT 3"
func Parse(s string) (*SelectStmt, error) {
	orig := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
	if orig == "" {
		return nil, errors.New("empty query")
	}

	matches := selectRe.FindStringSubmatch(orig)
	if matches == nil {
		return nil, errors.New("syntax: expected SELECT * FROM <chunk|*> [WHERE value|item|sign <op> <literal>] [LIMIT <n>]")
	}

	stmt := &SelectStmt{
		Chunk: strings.Trim(matches[1], "'"),
		Limit: -1,
	}

	if matches[2] != "" {
		where, err := parseWhere(strings.ToLower(matches[2]), matches[3], matches[4])
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if matches[5] != "" {
		limitVal, err := strconv.ParseInt(matches[5], 10, 32)
		if err != nil {
			return nil, errors.New("invalid LIMIT value")
		}
		stmt.Limit = int(limitVal)
	}

	return stmt, nil
}

func parseWhere(field, op, literal string) (*WhereClause, error) {
	w := &WhereClause{Field: field, Op: op}
	switch field {
	case "value":
		v, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			return nil, errors.New("invalid WHERE value: expected an integer")
		}
		w.Int = v
	case "item":
		w.Text = strings.Trim(literal, "'")
	case "sign":
		if op != "=" {
			return nil, errors.New("WHERE sign only supports =")
		}
		w.Text = strings.ToLower(strings.Trim(literal, "'"))
		switch w.Text {
		case "negative", "zero", "positive":
		default:
			return nil, fmt.Errorf("unknown sign %q", w.Text)
		}
	default:
		return nil, fmt.Errorf("unknown field %q: WHERE supports value, item and sign", field)
	}
	return w, nil
}

// Sign is the projection behind WHERE sign = ...
func Sign(r Row) (string, bool) {
	switch {
	case r.Value < 0:
		return "negative", true
	case r.Value > 0:
		return "positive", true
	}
	return "zero", true
}

// Query compiles the statement. signs serves WHERE sign; without it the sign
// is computed per row.
func (stmt *SelectStmt) Query(signs *core.SecondaryIndex[string, string, Row, string]) core.Query[string, string, Row] {
	q := core.Everything[string, string, Row]()
	if stmt.Chunk != AllChunks {
		q = core.Chunks[string, string, Row](stmt.Chunk)
	}
	if stmt.Where == nil {
		return q
	}

	if stmt.Where.Field == "sign" && signs != nil {
		return core.Matching(q, signs, stmt.Where.Text)
	}
	return core.Filter(q, stmt.Match)
}

// Run executes the statement against s and applies LIMIT.
func (stmt *SelectStmt) Run(s *core.Storage[string, string, Row], signs *core.SecondaryIndex[string, string, Row, string]) []Row {
	var rows []Row
	if stmt.Limit == 0 {
		return rows
	}
	for r := range s.Query(stmt.Query(signs)) {
		rows = append(rows, r)
		if stmt.Limit > 0 && len(rows) >= stmt.Limit {
			break
		}
	}
	return rows
}

func (stmt *SelectStmt) Match(r Row) bool {
	if stmt.Where == nil {
		return true
	}
	switch stmt.Where.Field {
	case "value":
		return compare(cmp.Compare(r.Value, stmt.Where.Int), stmt.Where.Op)
	case "item":
		return compare(cmp.Compare(r.Item, stmt.Where.Text), stmt.Where.Op)
	case "sign":
		s, _ := Sign(r)
		return s == stmt.Where.Text
	default:
		return false
	}
}

func compare(c int, op string) bool {
	switch op {
	case "=":
		return c == 0
	case "!=":
		return c != 0
	case ">":
		return c > 0
	case "<":
		return c < 0
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	default:
		return false
	}
}
