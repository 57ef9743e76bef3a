package clickhouse

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Conn is the subset of the native client a wrapper instance needs. Every
// call blocks until the server has answered.
type Conn interface {
	Query(ctx context.Context, query string) (*Block, error)
	Exec(ctx context.Context, query string) error
	Insert(ctx context.Context, table string, columns []string, values []any) error
	Close() error
}

// Dialer opens a connection for a connection string.
type Dialer func(ctx context.Context, dsn string) (Conn, error)

type BlockColumn struct {
	Name string
	Type string
}

// Block is a fully materialized query result.
type Block struct {
	Columns []BlockColumn
	Rows    [][]any
}

func (b *Block) ColumnIndex(name string) int {
	if b == nil {
		return -1
	}
	for i, col := range b.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

func (b *Block) RowCount() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

type nativeConn struct {
	conn driver.Conn
}

// Dial opens a native protocol connection and checks it with a ping.
func Dial(ctx context.Context, dsn string) (Conn, error) {
	opts, err := ch.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &nativeConn{conn: conn}, nil
}

func (c *nativeConn) Query(ctx context.Context, query string) (*Block, error) {
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := rows.ColumnTypes()
	block := &Block{Columns: make([]BlockColumn, len(types))}
	for i, ct := range types {
		block.Columns[i] = BlockColumn{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		values := make([]any, len(dest))
		for i, ptr := range dest {
			values[i] = reflect.ValueOf(ptr).Elem().Interface()
		}
		block.Rows = append(block.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return block, nil
}

func (c *nativeConn) Exec(ctx context.Context, query string) error {
	return c.conn.Exec(ctx, query)
}

func (c *nativeConn) Insert(ctx context.Context, table string, columns []string, values []any) error {
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", table, strings.Join(columns, ", ")))
	if err != nil {
		return err
	}
	if err := batch.Append(values...); err != nil {
		_ = batch.Abort()
		return err
	}
	return batch.Send()
}

func (c *nativeConn) Close() error {
	return c.conn.Close()
}
