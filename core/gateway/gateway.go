// Package gateway implements the record gateway behind the cloud_helper
// method channel: it validates method calls, runs them against the record
// store selected by the last initialize call, and delivers exactly one
// reply per call.
//
//	gw := gateway.New(memstore.New())
//	reply := gw.Call(ctx, channel.MethodCall{Method: "initialize", Arguments: args})
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jasonchiu/cloudhelper/core/channel"
	"github.com/jasonchiu/cloudhelper/core/record"
)

const (
	messageNotInitialized = "Storage not initialized"
	messageRecordNotFound = "Record not found"
)

// Context is the container and scope selected by initialize, together with
// the database opened for them. A Context is never mutated once stored.
type Context struct {
	Container string
	Scope     record.Scope
	Database  record.Database
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithPageSize sets the number of records requested per query page.
func WithPageSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.pageSize = n
		}
	}
}

// Gateway dispatches channel method calls to record store operations.
type Gateway struct {
	provider record.Provider
	current  atomic.Pointer[Context]
	pageSize int
	logger   *slog.Logger
}

func New(provider record.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider: provider,
		pageSize: record.DefaultPageSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Context returns the currently selected Context, if any.
func (g *Gateway) Context() (*Context, bool) {
	c := g.current.Load()
	return c, c != nil
}

// Invoke runs call asynchronously. The returned channel receives exactly one
// reply and is then closed.
func (g *Gateway) Invoke(ctx context.Context, call channel.MethodCall) <-chan channel.Reply {
	out := make(chan channel.Reply, 1)
	// The Context is captured before the goroutine starts so a concurrent
	// initialize cannot change the database under a running call.
	snapshot := g.current.Load()
	go func() {
		defer close(out)
		out <- g.handle(ctx, call, snapshot)
	}()
	return out
}

// Call runs call and waits for its reply.
func (g *Gateway) Call(ctx context.Context, call channel.MethodCall) channel.Reply {
	return <-g.Invoke(ctx, call)
}

func (g *Gateway) handle(ctx context.Context, call channel.MethodCall, snapshot *Context) (reply channel.Reply) {
	start := time.Now()
	log := g.logger.With(
		slog.String("call_id", uuid.NewString()),
		slog.String("method", call.Method),
	)
	if snapshot != nil {
		log = log.With(slog.String("container", snapshot.Container), slog.String("scope", snapshot.Scope.String()))
	}

	defer func() {
		if r := recover(); r != nil {
			reply = channel.Failure(failureCode(call.Method), fmt.Sprintf("internal error: %v", r))
			log.Error("channel call panicked", slog.Any("panic", r))
		}
		attrs := []any{slog.Duration("duration", time.Since(start))}
		switch {
		case reply.NotImplemented:
			log.Warn("channel method not implemented", attrs...)
		case reply.Error != nil:
			attrs = append(attrs, slog.String("code", reply.Error.Code), slog.String("error", reply.Error.Message))
			log.Warn("channel call failed", attrs...)
		default:
			log.Info("channel call complete", attrs...)
		}
	}()

	switch call.Method {
	case channel.MethodInitialize:
		return g.initialize(ctx, call.Arguments)
	case channel.MethodAddRecord:
		return g.addRecord(ctx, snapshot, call.Arguments)
	case channel.MethodEditRecord:
		return g.editRecord(ctx, snapshot, call.Arguments)
	case channel.MethodDeleteRecord:
		return g.deleteRecord(ctx, snapshot, call.Arguments)
	case channel.MethodGetAllRecords:
		return g.getAllRecords(ctx, snapshot, call.Arguments)
	default:
		return channel.NotImplemented()
	}
}

func (g *Gateway) initialize(ctx context.Context, args map[string]any) channel.Reply {
	req, err := DecodeInitialize(args)
	if err != nil {
		return argumentFailure(err)
	}
	db, err := g.provider.Database(ctx, req.ContainerID, req.Scope)
	if err != nil {
		return channel.Failure(channel.CodeArgument, err.Error())
	}
	g.current.Store(&Context{Container: req.ContainerID, Scope: req.Scope, Database: db})
	return channel.Success(nil)
}

func (g *Gateway) addRecord(ctx context.Context, c *Context, args map[string]any) channel.Reply {
	if c == nil {
		return notInitialized()
	}
	req, err := DecodeAddRecord(args)
	if err != nil {
		return argumentFailure(err)
	}
	if _, err := c.Database.Save(ctx, record.New(req.Type, req.ID, req.Data), record.SaveCreate); err != nil {
		return channel.Failure(channel.CodeUpload, err.Error())
	}
	return channel.Success(req.Data)
}

// editRecord fetches the record and saves it back with the new payload.
// The two steps are not atomic: concurrent edits of one key are last
// writer wins and no conflict is reported.
func (g *Gateway) editRecord(ctx context.Context, c *Context, args map[string]any) channel.Reply {
	if c == nil {
		return notInitialized()
	}
	req, err := DecodeEditRecord(args)
	if err != nil {
		return argumentFailure(err)
	}
	rec, err := c.Database.Fetch(ctx, req.ID)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return channel.Failure(channel.CodeEdit, messageRecordNotFound)
		}
		return channel.Failure(channel.CodeEdit, err.Error())
	}
	rec.SetData(req.Data)
	if _, err := c.Database.Save(ctx, rec, record.SaveOverwrite); err != nil {
		return channel.Failure(channel.CodeEdit, err.Error())
	}
	return channel.Success(req.Data)
}

func (g *Gateway) deleteRecord(ctx context.Context, c *Context, args map[string]any) channel.Reply {
	if c == nil {
		return notInitialized()
	}
	req, err := DecodeDeleteRecord(args)
	if err != nil {
		return argumentFailure(err)
	}
	if err := c.Database.Delete(ctx, req.ID); err != nil {
		return channel.Failure(channel.CodeDelete, err.Error())
	}
	return channel.Success(nil)
}

func (g *Gateway) getAllRecords(ctx context.Context, c *Context, args map[string]any) channel.Reply {
	if c == nil {
		return notInitialized()
	}
	req, err := DecodeGetAllRecords(args)
	if err != nil {
		return argumentFailure(err)
	}
	items, err := Accumulate(ctx, c.Database, req.Type, g.pageSize)
	if err != nil {
		return channel.Failure(channel.CodeGetData, err.Error())
	}
	return channel.Success(items)
}

func notInitialized() channel.Reply {
	return channel.Failure(channel.CodeInitialization, messageNotInitialized)
}

func argumentFailure(err error) channel.Reply {
	var argErr *ArgumentError
	if errors.As(err, &argErr) && argErr.Reason != "" {
		return channel.Failure(channel.CodeArgument, argErr.Reason)
	}
	return channel.Failure(channel.CodeArgument, messageMissingArguments)
}

func failureCode(method string) string {
	switch method {
	case channel.MethodAddRecord:
		return channel.CodeUpload
	case channel.MethodEditRecord:
		return channel.CodeEdit
	case channel.MethodDeleteRecord:
		return channel.CodeDelete
	case channel.MethodGetAllRecords:
		return channel.CodeGetData
	default:
		return channel.CodeArgument
	}
}
