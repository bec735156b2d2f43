package store

import (
	"fmt"
	"strings"
	"time"
)

// dialect carries the differences between the SQL backends that share the
// message query builder.
type dialect struct {
	placeholder func(n int) string
	// contains renders a case-sensitive substring test: column, placeholder.
	contains string
	// lower names a Unicode-aware lowercase function.
	lower   string
	timeArg func(time.Time) any
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	contains:    "instr(%s, %s) > 0",
	lower:       unicodeLower,
	timeArg:     func(t time.Time) any { return t.UTC().UnixNano() },
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	contains:    "strpos(%s, %s) > 0",
	lower:       "lower",
	timeArg:     func(t time.Time) any { return t.UTC() },
}

// buildMessageQuery renders the SELECT for QueryMessages. chat_id is always the
// first condition.
func buildMessageQuery(d dialect, chatID int64, q Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	conds = append(conds, "chat_id = "+arg(chatID))
	if !q.Since.IsZero() {
		conds = append(conds, "ts >= "+arg(d.timeArg(q.Since)))
	}
	if !q.Until.IsZero() {
		conds = append(conds, "ts < "+arg(d.timeArg(q.Until)))
	}
	if username := strings.TrimPrefix(strings.TrimSpace(q.Username), "@"); username != "" {
		conds = append(conds, fmt.Sprintf("(username = %s OR "+d.contains+")",
			arg(username), "text", arg("@"+username)))
	}
	if name := strings.TrimSpace(q.Name); name != "" {
		pattern := "%" + escapeLike(strings.ToLower(name)) + "%"
		conds = append(conds, fmt.Sprintf(`(%[1]s(full_name) LIKE %[2]s ESCAPE '\' OR %[1]s(text) LIKE %[3]s ESCAPE '\')`,
			d.lower, arg(pattern), arg(pattern)))
	}

	dir := "ASC"
	if q.Order == NewestFirst {
		dir = "DESC"
	}

	query := fmt.Sprintf(`SELECT message_id, chat_id, user_id, username, full_name, text, ts
		FROM messages
		WHERE %s
		ORDER BY ts %s, id %s
		LIMIT %s`, strings.Join(conds, " AND "), dir, dir, arg(q.EffectiveLimit()))
	return query, args
}
