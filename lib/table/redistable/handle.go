package redistable

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dPersist/lib/table"
	"github.com/redis/go-redis/v9"
)

// handle is a table.ITable bound to one pinned Redis connection.
type handle struct {
	b      *Backend
	name   string
	keys   keyLayout
	conn   *redis.Conn
	buf    *table.WriteBuffer
	closed bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see table.ITable)
// --------------------------------------------------------------------------

func (h *handle) Name() string {
	return h.name
}

func (h *handle) Get(g table.Get) (table.Row, error) {
	if h.closed {
		return table.Row{}, table.ErrClosed
	}
	ctx, cancel := h.b.withOperationTimeout(context.Background())
	defer cancel()

	value, err := h.conn.HGet(ctx, h.keys.row(g.Row), g.Column.String()).Bytes()
	if isNil(err) {
		return table.Row{Key: g.Row}, nil
	}
	if err != nil {
		return table.Row{}, h.wrap("get", err)
	}
	return table.Row{Key: g.Row, Value: nonNil(value)}, nil
}

// MultiGet sends all HGETs in one pipeline.
func (h *handle) MultiGet(gets []table.Get) ([]table.Row, error) {
	if h.closed {
		return nil, table.ErrClosed
	}
	rows := make([]table.Row, len(gets))
	if len(gets) == 0 {
		return rows, nil
	}
	ctx, cancel := h.b.withOperationTimeout(context.Background())
	defer cancel()

	cmds := make([]*redis.StringCmd, len(gets))
	// the pipeline error is the first failed command, missing fields included
	_, _ = h.conn.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, g := range gets {
			cmds[i] = p.HGet(ctx, h.keys.row(g.Row), g.Column.String())
		}
		return nil
	})

	for i, cmd := range cmds {
		value, err := cmd.Bytes()
		if isNil(err) {
			rows[i] = table.Row{Key: gets[i].Row}
			continue
		}
		if err != nil {
			return nil, h.wrap("multi get", err)
		}
		rows[i] = table.Row{Key: gets[i].Row, Value: nonNil(value)}
	}
	return rows, nil
}

func (h *handle) Scan(s table.Scan) (table.IScanner, error) {
	if h.closed {
		return nil, table.ErrClosed
	}
	caching := s.Caching
	if caching <= 0 {
		caching = defaultCaching
	}
	return &scanner{h: h, column: s.Column.String(), min: lexFrom(s.StartRow), caching: caching}, nil
}

func (h *handle) Put(p table.Put) error {
	if h.closed {
		return table.ErrClosed
	}
	return h.buf.Add(p)
}

func (h *handle) MultiPut(puts []table.Put) error {
	if h.closed {
		return table.ErrClosed
	}
	return h.buf.Add(puts...)
}

func (h *handle) Delete(d table.Delete) error {
	return h.MultiDelete([]table.Delete{d})
}

// MultiDelete removes the row hashes and their index entries in one MULTI/EXEC.
func (h *handle) MultiDelete(deletes []table.Delete) error {
	if h.closed {
		return table.ErrClosed
	}
	if len(deletes) == 0 {
		return nil
	}
	ctx, cancel := h.b.withOperationTimeout(context.Background())
	defer cancel()

	_, err := h.conn.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, d := range deletes {
			p.Del(ctx, h.keys.row(d.Row))
			p.ZRem(ctx, h.keys.rows(), string(d.Row))
		}
		return nil
	})
	return h.wrap("delete", err)
}

func (h *handle) SetAutoFlush(enabled bool) {
	h.buf.SetAutoFlush(enabled)
}

func (h *handle) Flush() error {
	if h.closed {
		return table.ErrClosed
	}
	return h.buf.Flush()
}

// Close discards buffered writes and returns the pinned connection to the client pool.
func (h *handle) Close() error {
	if h.closed {
		return nil
	}
	h.buf.Discard()
	h.closed = true
	return h.conn.Close()
}

// apply writes a batch of puts in one MULTI/EXEC, so a batch is applied atomically.
func (h *handle) apply(puts []table.Put) error {
	ctx, cancel := h.b.withOperationTimeout(context.Background())
	defer cancel()

	_, err := h.conn.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, put := range puts {
			p.HSet(ctx, h.keys.row(put.Row), put.Column.String(), nonNil(put.Value))
			p.ZAdd(ctx, h.keys.rows(), redis.Z{Score: 0, Member: string(put.Row)})
		}
		return nil
	})
	return h.wrap("put", err)
}

func (h *handle) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("table %s: %s: %w", h.name, op, err)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// --------------------------------------------------------------------------
// Scanner
// --------------------------------------------------------------------------

// scanner pages through the row index with ZRANGEBYLEX and fetches the
// column of each page in one pipeline, so every page costs two round trips.
type scanner struct {
	h       *handle
	column  string
	min     string
	caching int
	done    bool
	batch   []table.Row
	pos     int
}

func (s *scanner) Next() (table.Row, bool, error) {
	for s.pos >= len(s.batch) {
		if s.done {
			return table.Row{}, false, nil
		}
		if s.h.closed {
			return table.Row{}, false, table.ErrClosed
		}
		if err := s.fetch(); err != nil {
			return table.Row{}, false, s.h.wrap("scan", err)
		}
	}
	row := s.batch[s.pos]
	s.pos++
	return row, true, nil
}

func (s *scanner) fetch() error {
	ctx, cancel := s.h.b.withOperationTimeout(context.Background())
	defer cancel()

	members, err := s.h.conn.ZRangeByLex(ctx, s.h.keys.rows(), &redis.ZRangeBy{
		Min:   s.min,
		Max:   "+",
		Count: int64(s.caching),
	}).Result()
	if err != nil {
		return err
	}
	if len(members) < s.caching {
		s.done = true
	}
	s.batch = s.batch[:0]
	s.pos = 0
	if len(members) == 0 {
		return nil
	}
	s.min = lexAfter(members[len(members)-1])

	cmds := make([]*redis.StringCmd, len(members))
	_, _ = s.h.conn.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, member := range members {
			cmds[i] = p.HGet(ctx, s.h.keys.row([]byte(member)), s.column)
		}
		return nil
	})
	for i, cmd := range cmds {
		value, err := cmd.Bytes()
		if isNil(err) {
			continue
		}
		if err != nil {
			return err
		}
		s.batch = append(s.batch, table.Row{Key: []byte(members[i]), Value: nonNil(value)})
	}
	return nil
}

func (s *scanner) Close() error {
	s.done = true
	s.batch = nil
	return nil
}
