// Package resilience routes document operations between the remote store and
// the local fallback store, keeping receipts so local-only writes can be
// reconciled later.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kalambet/lecturelens/internal/docstore"
	"github.com/kalambet/lecturelens/internal/metrics"
	"github.com/kalambet/lecturelens/internal/storage"
)

const (
	defaultRemoteTimeout = 5 * time.Second
	defaultLocalTimeout  = 2 * time.Second
	defaultThreshold     = 3

	// An open breaker stays open until Reconcile replaces it.
	openUntilReconcile = 100 * 365 * 24 * time.Hour
)

// Mode describes how the coordinator is currently routing calls.
type Mode string

const (
	ModeRemote    Mode = "remote"
	ModeDegraded  Mode = "degraded"
	ModeLocalOnly Mode = "local-only"
)

// Ledger records which backend accepted each write.
type Ledger interface {
	RecordReceipt(ctx context.Context, r storage.Receipt) (int64, error)
	HasPending(ctx context.Context, collection, docID string) (bool, error)
	PendingReceipts(ctx context.Context, collection string) ([]storage.Receipt, error)
	ResolvePending(ctx context.Context, collection, docID string) error
	CountPending(ctx context.Context) (int, error)
}

// Status is a snapshot of the coordinator's routing state.
type Status struct {
	Mode        Mode   `json:"mode"`
	PendingSync int    `json:"pending_sync"`
	Breaker     string `json:"breaker"`
}

// Coordinator implements docstore.Backend on top of a remote and a local
// store. Writes try the remote store once and fall back to the local store
// once; there is no retry loop.
type Coordinator struct {
	local   docstore.Backend
	remote  docstore.Backend
	ledger  Ledger
	resolve Resolver
	logger  *slog.Logger

	remoteTimeout time.Duration
	localTimeout  time.Duration
	threshold     uint32

	mu      sync.RWMutex
	breaker *gobreaker.CircuitBreaker[any]
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithResolver overrides the conflict policy used for pending documents.
func WithResolver(r Resolver) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.resolve = r
		}
	}
}

// WithTimeouts sets per-call deadlines for each backend. Non-positive values keep the defaults.
func WithTimeouts(remote, local time.Duration) Option {
	return func(c *Coordinator) {
		if remote > 0 {
			c.remoteTimeout = remote
		}
		if local > 0 {
			c.localTimeout = local
		}
	}
}

// WithBreakerThreshold sets how many consecutive remote outages switch the
// coordinator to degraded (local-only) routing.
func WithBreakerThreshold(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.threshold = uint32(n)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Coordinator. remote may be nil, in which case every write is
// a pending local write.
func New(local, remote docstore.Backend, ledger Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		local:         local,
		remote:        remote,
		ledger:        ledger,
		resolve:       LastWriteWins,
		logger:        slog.Default(),
		remoteTimeout: defaultRemoteTimeout,
		localTimeout:  defaultLocalTimeout,
		threshold:     defaultThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = c.newBreaker()
	return c
}

func (c *Coordinator) newBreaker() *gobreaker.CircuitBreaker[any] {
	metrics.RemoteBreakerState.Set(0)
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "remote-store",
		MaxRequests: 1,
		Timeout:     openUntilReconcile,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !docstore.IsUnavailable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RemoteBreakerState.Set(float64(to))
			c.logger.Warn("remote store breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func (c *Coordinator) currentBreaker() *gobreaker.CircuitBreaker[any] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.breaker
}

func (c *Coordinator) resetBreaker() {
	c.mu.Lock()
	c.breaker = c.newBreaker()
	c.mu.Unlock()
}

// Status reports the routing mode and the number of documents awaiting sync.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	st := Status{Mode: ModeRemote, Breaker: "n/a"}
	if c.remote == nil {
		st.Mode = ModeLocalOnly
	} else {
		state := c.currentBreaker().State()
		st.Breaker = state.String()
		if state == gobreaker.StateOpen {
			st.Mode = ModeDegraded
		}
	}
	n, err := c.ledger.CountPending(ctx)
	if err != nil {
		return st, err
	}
	st.PendingSync = n
	return st, nil
}

func (c *Coordinator) Create(ctx context.Context, collection, id string, doc docstore.Document) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := validate(collection, id); err != nil {
		return "", err
	}

	_, rerr := c.callRemote(ctx, collection, "create", func(ctx context.Context) (any, error) {
		return c.remote.Create(ctx, collection, id, doc)
	})
	if rerr == nil {
		c.recordRemote(ctx, collection, id, "create", doc)
		return id, nil
	}
	if !docstore.IsUnavailable(rerr) {
		return "", rerr
	}

	c.noteFallback(collection, "create", id, rerr)
	lerr := c.callLocal(ctx, collection, "create", func(ctx context.Context) error {
		_, err := c.local.Create(ctx, collection, id, doc)
		return err
	})
	if lerr != nil {
		return "", c.persistenceError("create", collection, id, doc, rerr, lerr)
	}
	if err := c.recordPending(ctx, collection, id, "create", doc); err != nil {
		return "", c.persistenceError("create", collection, id, doc, rerr, err)
	}
	return id, nil
}

func (c *Coordinator) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := validate(collection, id); err != nil {
		return nil, err
	}

	lctx, cancel := c.ledgerCtx(ctx)
	pending, err := c.ledger.HasPending(lctx, collection, id)
	cancel()
	if err != nil {
		// Reading both copies is always safe.
		c.logger.Warn("checking sync receipts failed", "collection", collection, "id", id, "error", err)
		pending = true
	}
	if pending {
		return c.getMerged(ctx, collection, id)
	}

	doc, rerr := c.remoteGet(ctx, collection, id)
	if rerr == nil || !docstore.IsUnavailable(rerr) {
		return doc, rerr
	}

	c.noteFallback(collection, "get", id, rerr)
	doc, lerr := c.localGet(ctx, collection, id)
	if lerr == nil {
		return doc, nil
	}
	if c.remote == nil {
		return nil, lerr
	}
	return nil, c.persistenceError("get", collection, id, nil, rerr, lerr)
}

func (c *Coordinator) getMerged(ctx context.Context, collection, id string) (docstore.Document, error) {
	local, lerr := c.localGet(ctx, collection, id)
	remote, rerr := c.remoteGet(ctx, collection, id)
	switch {
	case lerr == nil && rerr == nil:
		return c.resolve(local, remote), nil
	case lerr == nil:
		return local, nil
	case rerr == nil:
		return remote, nil
	case errors.Is(lerr, docstore.ErrNotFound) && (errors.Is(rerr, docstore.ErrNotFound) || c.remote == nil):
		return nil, docstore.ErrNotFound
	}
	return nil, c.persistenceError("get", collection, id, nil, rerr, lerr)
}

func (c *Coordinator) List(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if err := docstore.ValidateID(collection); err != nil {
		return nil, err
	}

	lctx, cancel := c.ledgerCtx(ctx)
	pending, err := c.ledger.PendingReceipts(lctx, collection)
	cancel()
	if err != nil {
		c.logger.Warn("listing sync receipts failed", "collection", collection, "error", err)
	}

	rq := q
	if len(pending) > 0 {
		rq.KeepSeq = true
		if q.Limit > 0 {
			rq.Limit = q.Limit + len(pending)
		}
	}
	v, rerr := c.callRemote(ctx, collection, "list", func(ctx context.Context) (any, error) {
		return c.remote.List(ctx, collection, rq)
	})
	if rerr != nil {
		if !docstore.IsUnavailable(rerr) {
			return nil, rerr
		}
		c.noteFallback(collection, "list", "", rerr)
		var docs []docstore.Document
		lerr := c.callLocal(ctx, collection, "list", func(ctx context.Context) error {
			var err error
			docs, err = c.local.List(ctx, collection, q)
			return err
		})
		if lerr != nil {
			if c.remote == nil {
				return nil, lerr
			}
			return nil, c.persistenceError("list", collection, "", nil, rerr, lerr)
		}
		return docs, nil
	}

	docs, _ := v.([]docstore.Document)
	if len(pending) == 0 {
		return truncate(docs, q.Limit), nil
	}
	return c.overlay(ctx, collection, q, docs, pending), nil
}

// overlay merges pending local copies into a remote listing fetched with
// KeepSeq. The result follows the query's sort and then insertion order, so
// documents written locally during an outage keep their place.
func (c *Coordinator) overlay(ctx context.Context, collection string, q docstore.Query, docs []docstore.Document, pending []storage.Receipt) []docstore.Document {
	locals, err := c.pendingCopies(ctx, collection, pending)
	if err != nil {
		c.logger.Warn("reading pending local copies failed", "collection", collection, "error", err)
	}

	index := make(map[string]int, len(docs))
	seqs := make(map[string]float64, len(docs)+len(locals))
	for i, d := range docs {
		index[d.ID()] = i
		seqs[d.ID()] = docstore.Seq(d)
	}
	drop := make(map[int]bool)

	for _, r := range pending {
		local, ok := locals[r.DocID]
		if !ok {
			continue
		}
		delete(locals, r.DocID)
		if i, ok := index[r.DocID]; ok {
			if ls := docstore.Seq(local); ls > 0 && (seqs[r.DocID] == 0 || ls < seqs[r.DocID]) {
				seqs[r.DocID] = ls
			}
			docs[i] = c.resolve(local, docs[i])
			if !docstore.Matches(docs[i], q.Filter) {
				drop[i] = true
			}
			continue
		}
		if docstore.Matches(local, q.Filter) {
			seqs[r.DocID] = docstore.Seq(local)
			docs = append(docs, local)
		}
	}

	out := make([]docstore.Document, 0, len(docs))
	for i, d := range docs {
		if !drop[i] {
			out = append(out, d)
		}
	}
	docstore.SortDocuments(out, q.Sort, func(d docstore.Document) float64 { return seqs[d.ID()] })
	out = truncate(out, q.Limit)
	for i, d := range out {
		out[i] = docstore.WithoutSeq(d)
	}
	return out
}

// pendingCopies returns the local copies of the pending documents, keyed by
// id and carrying their insertion sequence.
func (c *Coordinator) pendingCopies(ctx context.Context, collection string, pending []storage.Receipt) (map[string]docstore.Document, error) {
	want := make(map[string]bool, len(pending))
	for _, r := range pending {
		want[r.DocID] = true
	}
	var docs []docstore.Document
	err := c.callLocal(ctx, collection, "list", func(ctx context.Context) error {
		var err error
		docs, err = c.local.List(ctx, collection, docstore.Query{KeepSeq: true})
		return err
	})
	out := make(map[string]docstore.Document, len(want))
	for _, d := range docs {
		if want[d.ID()] {
			out[d.ID()] = d
		}
	}
	return out, err
}

func (c *Coordinator) Update(ctx context.Context, collection, id string, patch docstore.Document) error {
	if err := validate(collection, id); err != nil {
		return err
	}

	lctx, cancel := c.ledgerCtx(ctx)
	pending, err := c.ledger.HasPending(lctx, collection, id)
	cancel()
	if err != nil {
		c.logger.Warn("checking sync receipts failed", "collection", collection, "id", id, "error", err)
	}
	if pending {
		// The pending local copy stays authoritative until reconciled.
		return c.updateLocal(ctx, collection, id, patch, nil)
	}

	_, rerr := c.callRemote(ctx, collection, "update", func(ctx context.Context) (any, error) {
		return nil, c.remote.Update(ctx, collection, id, patch)
	})
	if rerr == nil {
		c.recordRemote(ctx, collection, id, "update", patch)
		return nil
	}
	if !docstore.IsUnavailable(rerr) {
		return rerr
	}
	c.noteFallback(collection, "update", id, rerr)
	return c.updateLocal(ctx, collection, id, patch, rerr)
}

func (c *Coordinator) updateLocal(ctx context.Context, collection, id string, patch docstore.Document, rerr error) error {
	lerr := c.callLocal(ctx, collection, "update", func(ctx context.Context) error {
		return c.local.Update(ctx, collection, id, patch)
	})
	if lerr != nil {
		if c.remote == nil && errors.Is(lerr, docstore.ErrNotFound) {
			return lerr
		}
		return c.persistenceError("update", collection, id, patch, rerr, lerr)
	}
	if err := c.recordPending(ctx, collection, id, "update", patch); err != nil {
		return c.persistenceError("update", collection, id, patch, rerr, err)
	}
	return nil
}

func (c *Coordinator) remoteGet(ctx context.Context, collection, id string) (docstore.Document, error) {
	v, err := c.callRemote(ctx, collection, "get", func(ctx context.Context) (any, error) {
		return c.remote.Get(ctx, collection, id)
	})
	if err != nil {
		return nil, err
	}
	doc, _ := v.(docstore.Document)
	return doc, nil
}

func (c *Coordinator) localGet(ctx context.Context, collection, id string) (docstore.Document, error) {
	var doc docstore.Document
	err := c.callLocal(ctx, collection, "get", func(ctx context.Context) error {
		var err error
		doc, err = c.local.Get(ctx, collection, id)
		return err
	})
	return doc, err
}

// callRemote runs fn against the remote store under the remote timeout and
// the circuit breaker. An open breaker is reported as unavailability.
func (c *Coordinator) callRemote(ctx context.Context, collection, op string, fn func(context.Context) (any, error)) (any, error) {
	if c.remote == nil {
		return nil, &docstore.UnavailableError{Backend: storage.BackendRemote, Op: op, Err: ErrRemoteNotConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()

	v, err := c.currentBreaker().Execute(func() (any, error) { return fn(ctx) })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &docstore.UnavailableError{Backend: storage.BackendRemote, Op: op, Err: err}
	}
	observe(collection, op, storage.BackendRemote, err)
	return v, err
}

func (c *Coordinator) callLocal(ctx context.Context, collection, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.localTimeout)
	defer cancel()
	err := fn(ctx)
	observe(collection, op, storage.BackendLocal, err)
	return err
}

// ledgerCtx detaches ledger bookkeeping from caller cancellation: once a
// write landed, its receipt must be recorded.
func (c *Coordinator) ledgerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.localTimeout)
}

func (c *Coordinator) recordRemote(ctx context.Context, collection, id, op string, doc docstore.Document) {
	lctx, cancel := c.ledgerCtx(ctx)
	defer cancel()
	if _, err := c.ledger.RecordReceipt(lctx, receipt(collection, id, op, storage.BackendRemote, false, doc)); err != nil {
		c.logger.Warn("recording receipt failed", "collection", collection, "id", id, "error", err)
	}
	if op != "create" {
		return
	}
	// A full remote write supersedes any older local copy.
	if err := c.ledger.ResolvePending(lctx, collection, id); err != nil {
		c.logger.Warn("resolving superseded receipts failed", "collection", collection, "id", id, "error", err)
	}
	c.refreshPending(lctx)
}

func (c *Coordinator) recordPending(ctx context.Context, collection, id, op string, doc docstore.Document) error {
	lctx, cancel := c.ledgerCtx(ctx)
	defer cancel()
	if _, err := c.ledger.RecordReceipt(lctx, receipt(collection, id, op, storage.BackendLocal, true, doc)); err != nil {
		return err
	}
	c.refreshPending(lctx)
	return nil
}

func (c *Coordinator) refreshPending(ctx context.Context) {
	if n, err := c.ledger.CountPending(ctx); err == nil {
		metrics.PendingSync.Set(float64(n))
	}
}

func (c *Coordinator) noteFallback(collection, op, id string, err error) {
	metrics.StorageFallbacks.WithLabelValues(collection, op).Inc()
	if c.remote == nil {
		return
	}
	c.logger.Warn("remote store unavailable, using local store", "collection", collection, "op", op, "id", id, "error", err)
}

func (c *Coordinator) persistenceError(op, collection, id string, doc docstore.Document, rerr, lerr error) error {
	metrics.PersistenceFailures.WithLabelValues(collection, op).Inc()
	c.logger.Error("both backends failed", "collection", collection, "op", op, "id", id, "remote_error", rerr, "local_error", lerr)
	return &PersistenceError{Op: op, Collection: collection, ID: id, Document: doc, Remote: rerr, Local: lerr}
}

func receipt(collection, id, op, backend string, pending bool, doc docstore.Document) storage.Receipt {
	return storage.Receipt{
		Collection:   collection,
		DocID:        id,
		Op:           op,
		Backend:      backend,
		Pending:      pending,
		DocUpdatedAt: doc.String("last_updated"),
		CreatedAt:    time.Now(),
	}
}

func observe(collection, op, backend string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, docstore.ErrNotFound):
		outcome = "not_found"
	case docstore.IsUnavailable(err):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	metrics.StorageOps.WithLabelValues(collection, op, backend, outcome).Inc()
}

func validate(collection, id string) error {
	if err := docstore.ValidateID(collection); err != nil {
		return err
	}
	return docstore.ValidateID(id)
}

func truncate(docs []docstore.Document, limit int) []docstore.Document {
	if limit > 0 && len(docs) > limit {
		return docs[:limit]
	}
	return docs
}
