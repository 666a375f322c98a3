package app

import (
	"context"

	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/ports"
)

// RecordStore is the view of the persistent queue used by the pipeline.
type RecordStore interface {
	Insert(ctx context.Context, payload string) (domain.RecordID, error)
	List(ctx context.Context) ([]domain.Record, error)
	Delete(ctx context.Context, id domain.RecordID) (bool, error)
}

type storeOp int

const (
	storeInsert storeOp = iota
	storeList
	storeDelete
)

// storeRequest is a tagged union: op selects which of payload and id is meaningful.
type storeRequest struct {
	ctx     context.Context
	op      storeOp
	payload string
	id      domain.RecordID
	reply   chan storeResponse
}

type storeResponse struct {
	id      domain.RecordID
	records []domain.Record
	deleted bool
	err     error
}

// StoreWorker owns the queue handle. Every other goroutine reaches the queue
// through its RecordStore methods, which are safe for concurrent use.
type StoreWorker struct {
	queue    ports.Queue
	requests chan storeRequest
	done     chan struct{}
	logger   ports.Logger
}

// NewStoreWorker creates a worker for queue. Call Run to start serving.
func NewStoreWorker(queue ports.Queue, logger ports.Logger) *StoreWorker {
	return &StoreWorker{
		queue:    queue,
		requests: make(chan storeRequest),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Run serves requests until ctx is done.
func (w *StoreWorker) Run(ctx context.Context) error {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.requests:
			req.reply <- w.serve(req)
		}
	}
}

func (w *StoreWorker) serve(req storeRequest) storeResponse {
	var resp storeResponse
	switch req.op {
	case storeInsert:
		resp.id, resp.err = w.queue.Insert(req.ctx, req.payload)
	case storeList:
		resp.records, resp.err = w.queue.List(req.ctx)
	case storeDelete:
		resp.deleted, resp.err = w.queue.Delete(req.ctx, req.id)
	}
	return resp
}

func (w *StoreWorker) call(ctx context.Context, req storeRequest) storeResponse {
	req.ctx = ctx
	req.reply = make(chan storeResponse, 1)

	select {
	case w.requests <- req:
	case <-w.done:
		return storeResponse{err: domain.ErrStoreClosed}
	case <-ctx.Done():
		return storeResponse{err: ctx.Err()}
	}

	select {
	case resp := <-req.reply:
		return resp
	case <-ctx.Done():
		return storeResponse{err: ctx.Err()}
	}
}

// Insert appends payload to the queue.
func (w *StoreWorker) Insert(ctx context.Context, payload string) (domain.RecordID, error) {
	resp := w.call(ctx, storeRequest{op: storeInsert, payload: payload})
	return resp.id, resp.err
}

// List returns a snapshot of every buffered record.
func (w *StoreWorker) List(ctx context.Context) ([]domain.Record, error) {
	resp := w.call(ctx, storeRequest{op: storeList})
	return resp.records, resp.err
}

// Delete removes the record with the given id.
func (w *StoreWorker) Delete(ctx context.Context, id domain.RecordID) (bool, error) {
	resp := w.call(ctx, storeRequest{op: storeDelete, id: id})
	return resp.deleted, resp.err
}

var _ RecordStore = (*StoreWorker)(nil)
