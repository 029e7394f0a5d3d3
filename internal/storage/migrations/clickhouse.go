package migrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	chstore "evm-token-lab/internal/storage/clickhouse"
)

// RunClickHouse creates the DSN's database if needed and applies every embedded
// migration. ClickHouse statements are idempotent (IF NOT EXISTS), so nothing is
// tracked. The returned connection targets the migrated database.
func RunClickHouse(ctx context.Context, dsn string, logger *zap.Logger) (*chstore.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	migs, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	err = admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbName))
	_ = admin.Close()
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}

	for _, m := range migs {
		stmts, err := splitStatements(m.SQL)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("parse migration %s: %w", m.Version, err)
		}
		// The native protocol runs one statement per Exec.
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", m.Version, err)
			}
		}
		logger.Info("applied clickhouse migration",
			zap.String("version", m.Version),
			zap.Int("statements", len(stmts)))
	}

	return conn, nil
}

// splitStatements splits SQL on semicolons outside quotes and drops "--" comments.
func splitStatements(input string) ([]string, error) {
	var (
		stmts []string
		cur   strings.Builder
		quote byte
	)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(input); i++ {
		ch := input[i]

		if quote != 0 {
			cur.WriteByte(ch)
			switch {
			case ch == '\\' && i+1 < len(input):
				i++
				cur.WriteByte(input[i])
			case ch == quote && i+1 < len(input) && input[i+1] == quote:
				i++
				cur.WriteByte(input[i])
			case ch == quote:
				quote = 0
			}
			continue
		}

		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
			cur.WriteByte(ch)
		case ch == '-' && i+1 < len(input) && input[i+1] == '-':
			for i < len(input) && input[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}

	if quote != 0 {
		return nil, errors.New("unterminated quoted string")
	}
	flush()
	return stmts, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", errors.New("clickhouse dsn missing database")
	}
	return db, nil
}
