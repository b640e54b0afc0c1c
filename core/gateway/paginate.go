package gateway

import (
	"context"

	"github.com/jasonchiu/cloudhelper/core/record"
)

// Accumulate queries db page by page until the store stops returning a
// cursor and concatenates each record's data field in the order the store
// yields them. Records without a data field are skipped. A failure on any
// page returns the error and discards everything gathered so far. Page N+1
// is only requested after page N has completed.
func Accumulate(ctx context.Context, db record.Database, recordType string, pageSize int) ([]string, error) {
	out := []string{}
	q := record.Query{Type: recordType, Limit: record.PageLimit(pageSize)}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := db.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, rec := range page.Records {
			if data, ok := rec.Data(); ok {
				out = append(out, data)
			}
		}
		if page.Cursor == "" {
			return out, nil
		}
		q = record.Query{Cursor: page.Cursor, Limit: q.Limit}
	}
}
