package database

import (
	"context"
	"database/sql/driver"
	"strings"
	"time"

	"github.com/shishobooks/libby/pkg/transport"
)

const busyRetryBaseDelay = 50 * time.Millisecond

// isBusyError reports SQLite BUSY and LOCKED errors from either sqlite
// driver.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "database table is locked") ||
		strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "SQLITE_LOCKED") ||
		strings.Contains(s, "(5)") ||
		strings.Contains(s, "(6)")
}

// retryWithBackoff runs fn until it succeeds, fails with anything other than
// a busy error, or maxRetries retries have been made.
func retryWithBackoff(ctx context.Context, maxRetries int, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(); err == nil || !isBusyError(err) || attempt == maxRetries {
			return err
		}
		if serr := transport.Sleep(ctx, transport.Backoff(busyRetryBaseDelay, attempt)); serr != nil {
			return serr
		}
	}
	return err
}

// retryConnector hands out connections that retry busy statements.
type retryConnector struct {
	driver.Connector
	maxRetries int
}

func newRetryConnector(c driver.Connector, maxRetries int) *retryConnector {
	return &retryConnector{Connector: c, maxRetries: maxRetries}
}

func (rc *retryConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := rc.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &retryConn{Conn: conn, maxRetries: rc.maxRetries}, nil
}

// retryConn retries transactions and direct statements. Prepared
// statements are passed through untouched; bun does not prepare.
type retryConn struct {
	driver.Conn
	maxRetries int
}

func (c *retryConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	var tx driver.Tx
	err := retryWithBackoff(ctx, c.maxRetries, func() error {
		var err error
		if b, ok := c.Conn.(driver.ConnBeginTx); ok {
			tx, err = b.BeginTx(ctx, opts)
		} else {
			tx, err = c.Conn.Begin() //nolint:staticcheck // fallback for drivers without BeginTx
		}
		return err
	})
	return tx, err
}

func (c *retryConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	execer, ok := c.Conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	var res driver.Result
	err := retryWithBackoff(ctx, c.maxRetries, func() error {
		var err error
		res, err = execer.ExecContext(ctx, query, args)
		return err
	})
	return res, err
}

func (c *retryConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	queryer, ok := c.Conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	var rows driver.Rows
	err := retryWithBackoff(ctx, c.maxRetries, func() error {
		var err error
		rows, err = queryer.QueryContext(ctx, query, args)
		return err
	})
	return rows, err
}

func (c *retryConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if p, ok := c.Conn.(driver.ConnPrepareContext); ok {
		return p.PrepareContext(ctx, query)
	}
	return c.Conn.Prepare(query)
}

func (c *retryConn) ResetSession(ctx context.Context) error {
	if r, ok := c.Conn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

func (c *retryConn) IsValid() bool {
	if v, ok := c.Conn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}
