package cloudkit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jasonchiu/cloudhelper/core/record"
)

type fieldValue struct {
	Value any    `json:"value"`
	Type  string `json:"type,omitempty"`
}

type timestamp struct {
	Timestamp int64 `json:"timestamp"`
}

type wireRecord struct {
	RecordName      string                `json:"recordName"`
	RecordType      string                `json:"recordType,omitempty"`
	RecordChangeTag string                `json:"recordChangeTag,omitempty"`
	Fields          map[string]fieldValue `json:"fields,omitempty"`
	Created         *timestamp            `json:"created,omitempty"`
	Modified        *timestamp            `json:"modified,omitempty"`
	ServerErrorCode string                `json:"serverErrorCode,omitempty"`
	Reason          string                `json:"reason,omitempty"`
}

type operation struct {
	OperationType string     `json:"operationType"`
	Record        wireRecord `json:"record"`
}

type modifyRequest struct {
	Operations []operation `json:"operations"`
}

type lookupRequest struct {
	Records []wireRecord `json:"records"`
}

type recordsResponse struct {
	Records            []wireRecord `json:"records"`
	ContinuationMarker string       `json:"continuationMarker,omitempty"`
}

type queryBody struct {
	RecordType string `json:"recordType"`
}

type queryRequest struct {
	Query              queryBody `json:"query"`
	ResultsLimit       int       `json:"resultsLimit,omitempty"`
	ContinuationMarker string    `json:"continuationMarker,omitempty"`
}

type database struct {
	store *Store
	root  string
}

func toWire(rec record.Record) wireRecord {
	w := wireRecord{
		RecordName: rec.Key,
		RecordType: rec.Type,
		Fields:     make(map[string]fieldValue, len(rec.Fields)),
	}
	for k, v := range rec.Fields {
		w.Fields[k] = fieldValue{Value: v, Type: "STRING"}
	}
	return w
}

func fromWire(w wireRecord) record.Record {
	rec := record.Record{
		Key:       w.RecordName,
		Type:      w.RecordType,
		Fields:    make(map[string]string, len(w.Fields)),
		ChangeTag: w.RecordChangeTag,
	}
	for k, f := range w.Fields {
		// Only string fields map onto the record model.
		if s, ok := f.Value.(string); ok {
			rec.Fields[k] = s
		}
	}
	if w.Created != nil {
		rec.CreatedAt = time.UnixMilli(w.Created.Timestamp).UTC()
	}
	if w.Modified != nil {
		rec.ModifiedAt = time.UnixMilli(w.Modified.Timestamp).UTC()
	}
	return rec
}

// recordError maps a per-record failure onto the record package errors.
func recordError(w wireRecord, create bool) error {
	if w.ServerErrorCode == "" {
		return nil
	}
	apiErr := &APIError{Code: w.ServerErrorCode, Reason: w.Reason}
	switch {
	case w.ServerErrorCode == CodeNotFound:
		return fmt.Errorf("%w: %v", record.ErrNotFound, apiErr)
	case create && (w.ServerErrorCode == CodeConflict || w.ServerErrorCode == CodeExists):
		return fmt.Errorf("%q: %w: %v", w.RecordName, record.ErrAlreadyExists, apiErr)
	default:
		return apiErr
	}
}

func (d *database) modify(ctx context.Context, op operation) (wireRecord, error) {
	var resp recordsResponse
	if err := d.store.post(ctx, d.root, "records/modify", modifyRequest{Operations: []operation{op}}, &resp); err != nil {
		return wireRecord{}, err
	}
	if len(resp.Records) != 1 {
		return wireRecord{}, fmt.Errorf("cloudkit: modify returned %d records", len(resp.Records))
	}
	w := resp.Records[0]
	if err := recordError(w, op.OperationType == "create"); err != nil {
		return wireRecord{}, err
	}
	return w, nil
}

func (d *database) Save(ctx context.Context, rec record.Record, policy record.SavePolicy) (record.Record, error) {
	if err := record.ValidateKey(rec.Key); err != nil {
		return record.Record{}, err
	}
	if err := record.ValidateType(rec.Type); err != nil {
		return record.Record{}, err
	}
	opType := "create"
	if policy == record.SaveOverwrite {
		opType = "forceReplace"
	}
	w, err := d.modify(ctx, operation{OperationType: opType, Record: toWire(rec)})
	if err != nil {
		return record.Record{}, err
	}
	out := fromWire(w)
	if len(out.Fields) == 0 {
		out.Fields = rec.Clone().Fields
	}
	return out, nil
}

func (d *database) Fetch(ctx context.Context, key string) (record.Record, error) {
	if err := record.ValidateKey(key); err != nil {
		return record.Record{}, err
	}
	var resp recordsResponse
	req := lookupRequest{Records: []wireRecord{{RecordName: key}}}
	if err := d.store.post(ctx, d.root, "records/lookup", req, &resp); err != nil {
		return record.Record{}, err
	}
	if len(resp.Records) == 0 {
		return record.Record{}, record.ErrNotFound
	}
	if err := recordError(resp.Records[0], false); err != nil {
		return record.Record{}, err
	}
	return fromWire(resp.Records[0]), nil
}

func (d *database) Delete(ctx context.Context, key string) error {
	if err := record.ValidateKey(key); err != nil {
		return err
	}
	_, err := d.modify(ctx, operation{OperationType: "forceDelete", Record: wireRecord{RecordName: key}})
	return err
}

// cursorState pairs the continuation marker with the query it belongs to,
// since CloudKit expects the original query to be resent with the marker.
type cursorState struct {
	Type   string `json:"t"`
	Marker string `json:"m"`
}

func (d *database) Query(ctx context.Context, q record.Query) (record.Page, error) {
	state := cursorState{Type: q.Type}
	if q.Cursor != "" {
		var err error
		if state, err = decodeCursor(q.Cursor); err != nil {
			return record.Page{}, err
		}
	}
	if err := record.ValidateType(state.Type); err != nil {
		return record.Page{}, err
	}

	req := queryRequest{
		Query:              queryBody{RecordType: state.Type},
		ResultsLimit:       record.PageLimit(q.Limit),
		ContinuationMarker: state.Marker,
	}
	var resp recordsResponse
	if err := d.store.post(ctx, d.root, "records/query", req, &resp); err != nil {
		return record.Page{}, err
	}

	page := record.Page{Records: make([]record.Record, 0, len(resp.Records))}
	for _, w := range resp.Records {
		if err := recordError(w, false); err != nil {
			return record.Page{}, err
		}
		page.Records = append(page.Records, fromWire(w))
	}
	if resp.ContinuationMarker != "" {
		page.Cursor = encodeCursor(cursorState{Type: state.Type, Marker: resp.ContinuationMarker})
	}
	return page, nil
}

func encodeCursor(state cursorState) record.Cursor {
	data, _ := json.Marshal(state)
	return record.Cursor(base64.RawURLEncoding.EncodeToString(data))
}

func decodeCursor(c record.Cursor) (cursorState, error) {
	data, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return cursorState{}, record.ErrInvalidCursor
	}
	var state cursorState
	if err := json.Unmarshal(data, &state); err != nil || state.Marker == "" {
		return cursorState{}, record.ErrInvalidCursor
	}
	return state, nil
}

// IsThrottled reports whether err is a CloudKit rate limit response.
func IsThrottled(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Code == CodeThrottle || apiErr.Status == 429 || apiErr.Status == 503)
}
