package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetrieverConfig tunes retrieval and access-time write-back.
type RetrieverConfig struct {
	Decay             DecayConfig
	K                 int           // default result count (5)
	FetchK            int           // similarity candidates per query (100)
	FlushInterval     time.Duration // write-back period (5s)
	QueueSize         int           // pending touch buffer (1024)
	DefaultImportance int           // used when scoring fails (1)
}

// DefaultRetrieverConfig returns the standard settings.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		Decay:             DefaultDecayConfig(),
		K:                 5,
		FetchK:            100,
		FlushInterval:     5 * time.Second,
		QueueSize:         1024,
		DefaultImportance: 1,
	}
}

func (c RetrieverConfig) withDefaults() RetrieverConfig {
	d := DefaultRetrieverConfig()
	c.Decay = c.Decay.withDefaults()
	if c.K <= 0 {
		c.K = d.K
	}
	if c.FetchK <= 0 {
		c.FetchK = d.FetchK
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.DefaultImportance < 1 || c.DefaultImportance > 10 {
		c.DefaultImportance = d.DefaultImportance
	}
	return c
}

// QueryOptions overrides per-query settings. Zero values use the config.
type QueryOptions struct {
	K      int
	FetchK int
	Now    time.Time
}

// InsertOption customizes a record before it is stored.
type InsertOption func(*Record)

// At sets the record's creation time instead of the current time.
func At(t time.Time) InsertOption {
	return func(r *Record) {
		if !t.IsZero() {
			r.CreatedAt = t
		}
	}
}

// WithMetadata attaches extra string metadata to the record.
func WithMetadata(m map[string]string) InsertOption {
	return func(r *Record) {
		if len(m) == 0 {
			return
		}
		if r.Metadata == nil {
			r.Metadata = make(map[string]string, len(m))
		}
		for k, v := range m {
			r.Metadata[k] = v
		}
	}
}

type touch struct {
	id string
	at time.Time
}

// Retriever is one agent's memory stream: it scores and stores new records
// and answers hybrid recency/importance/relevance queries. Access times of
// returned records are written back asynchronously by a single flusher
// goroutine, so Query never waits on the store write.
type Retriever struct {
	store  Store
	scorer Importance
	cfg    RetrieverConfig
	logger *zap.Logger
	now    func() time.Time

	touches  chan touch
	flushReq chan chan error
	quit     chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Int64
}

// NewRetriever creates a Retriever over store and starts its flusher.
// scorer may be nil, in which case every record gets the default importance.
func NewRetriever(store Store, scorer Importance, cfg RetrieverConfig, logger *zap.Logger) *Retriever {
	cfg = cfg.withDefaults()
	r := &Retriever{
		store:    store,
		scorer:   scorer,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		touches:  make(chan touch, cfg.QueueSize),
		flushReq: make(chan chan error),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

// Insert scores content, stamps it and appends it to the store. A scoring
// failure falls back to the default importance; a store failure is returned.
func (r *Retriever) Insert(ctx context.Context, content string, kind Kind, opts ...InsertOption) (Record, error) {
	if r.closed.Load() {
		return Record{}, ErrClosed
	}
	if !kind.Valid() {
		kind = KindObservation
	}

	rec := Record{
		ID:      uuid.New().String(),
		Content: content,
		Kind:    kind,
	}
	for _, opt := range opts {
		opt(&rec)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	rec.LastAccessedAt = rec.CreatedAt
	rec.Importance = r.score(ctx, content)

	if err := r.store.Add(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("store memory: %w", err)
	}
	r.logger.Debug("memory inserted",
		zap.String("id", rec.ID),
		zap.String("kind", string(rec.Kind)),
		zap.Int("importance", rec.Importance))
	return rec, nil
}

func (r *Retriever) score(ctx context.Context, content string) int {
	if r.scorer == nil {
		return r.cfg.DefaultImportance
	}
	score, err := r.scorer.Score(ctx, content)
	if err != nil {
		r.logger.Warn("importance scoring failed, using default",
			zap.Int("default", r.cfg.DefaultImportance), zap.Error(err))
		return r.cfg.DefaultImportance
	}
	return score
}

// Query returns the top records for text ranked by the composite score and
// queues their access-time update.
func (r *Retriever) Query(ctx context.Context, text string, opts QueryOptions) ([]Record, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	k, fetchK := opts.K, opts.FetchK
	if k <= 0 {
		k = r.cfg.K
	}
	if fetchK <= 0 {
		fetchK = r.cfg.FetchK
	}
	if fetchK < k {
		fetchK = k
	}
	now := opts.Now
	if now.IsZero() {
		now = r.now()
	}

	cands, err := r.store.QuerySimilar(ctx, text, fetchK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	if len(cands) == 0 {
		return nil, nil
	}

	results := Rank(cands, now, r.cfg.Decay, k)
	for _, rec := range results {
		r.enqueue(touch{id: rec.ID, at: now})
	}
	return results, nil
}

func (r *Retriever) enqueue(t touch) {
	select {
	case r.touches <- t:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports how many touches were discarded because the queue was full.
func (r *Retriever) Dropped() int64 { return r.dropped.Load() }

// Flush forces a write-back cycle and returns its error.
func (r *Retriever) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case r.flushReq <- reply:
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the flusher after one final write-back and closes the store.
// It is safe to call more than once.
func (r *Retriever) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.quit)
		<-r.done
		err = r.store.Close()
	})
	return err
}

func (r *Retriever) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case t := <-r.touches:
			merge(pending, t)
		case <-ticker.C:
			r.flush(pending)
		case reply := <-r.flushReq:
			r.drain(pending)
			reply <- r.flush(pending)
		case <-r.quit:
			r.drain(pending)
			r.flush(pending)
			return
		}
	}
}

func (r *Retriever) drain(pending map[string]time.Time) {
	for {
		select {
		case t := <-r.touches:
			merge(pending, t)
		default:
			return
		}
	}
}

func merge(pending map[string]time.Time, t touch) {
	if prev, ok := pending[t.id]; !ok || t.at.After(prev) {
		pending[t.id] = t.at
	}
}

// flush writes every pending touch in one batch. On failure the batch stays
// pending and is merged into the next cycle.
func (r *Retriever) flush(pending map[string]time.Time) error {
	if len(pending) == 0 {
		return nil
	}
	batch := make(map[string]time.Time, len(pending))
	for id, at := range pending {
		batch[id] = at
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.store.UpdateAccessed(ctx, batch); err != nil {
		r.logger.Warn("access time write-back failed, will retry",
			zap.Int("pending", len(batch)), zap.Error(err))
		return err
	}
	for id := range batch {
		delete(pending, id)
	}
	r.logger.Debug("access times flushed", zap.Int("count", len(batch)), zap.Strings("ids", sortedIDs(batch)))
	return nil
}

func sortedIDs(m map[string]time.Time) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
