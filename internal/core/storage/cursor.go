package storage

import (
	"context"
	"fmt"

	"github.com/aevon-lab/eventkernel/internal/core/event"
)

// BulkReader is the subset of EventStore a Cursor pages over.
type BulkReader interface {
	LoadAllEvents(ctx context.Context, filter event.Filter, opts event.ReadOptions) ([]event.StoredEvent, error)
}

// Cursor pulls the event log in fixed-size batches. It is not safe for
// concurrent use. Offset reports how far it got, so a caller can resume by
// building a new cursor with ReadOptions.Offset set to it.
type Cursor struct {
	reader    BulkReader
	filter    event.Filter
	opts      event.ReadOptions
	offset    int
	remaining int
	done      bool
}

// NewCursor starts a cursor at opts.Offset. opts.Limit caps the total number
// of events delivered across all batches.
func NewCursor(reader BulkReader, filter event.Filter, opts event.ReadOptions) *Cursor {
	return &Cursor{
		reader:    reader,
		filter:    filter,
		opts:      opts,
		offset:    opts.Offset,
		remaining: opts.Limit,
	}
}

// Next returns the next batch and whether more batches may follow.
// An empty batch with hasMore=false means the log is exhausted.
func (c *Cursor) Next(ctx context.Context) ([]event.StoredEvent, bool, error) {
	if c.done {
		return nil, false, nil
	}

	size := c.opts.EffectiveBatchSize()
	if c.opts.Limit > 0 && c.remaining < size {
		size = c.remaining
	}

	batch, err := c.reader.LoadAllEvents(ctx, c.filter, event.ReadOptions{
		Limit:      size,
		Offset:     c.offset,
		Descending: c.opts.Descending,
	})
	if err != nil {
		return nil, false, fmt.Errorf("cursor read at offset %d: %w", c.offset, err)
	}

	c.offset += len(batch)
	if c.opts.Limit > 0 {
		c.remaining -= len(batch)
		if c.remaining <= 0 {
			c.done = true
		}
	}
	if len(batch) < size {
		c.done = true
	}

	return batch, !c.done, nil
}

// Offset is the number of matching events consumed so far, including the initial offset.
func (c *Cursor) Offset() int {
	return c.offset
}

// ForEach drains the cursor, stopping at the first error returned by fn.
func (c *Cursor) ForEach(ctx context.Context, fn func(event.StoredEvent) error) error {
	for {
		batch, more, err := c.Next(ctx)
		if err != nil {
			return err
		}
		for _, e := range batch {
			if err := fn(e); err != nil {
				return err
			}
		}
		if !more {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
