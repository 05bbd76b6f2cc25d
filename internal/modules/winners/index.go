package winners

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/pgvector/pgvector-go"

	"github.com/yungbote/adpilot-backend/internal/data/repos"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrZeroVector        = errors.New("embedding has zero norm")
	ErrEmptyAdID         = errors.New("ad id is required")
)

type Metadata struct {
	TenantID     string  `json:"tenant_id,omitempty"`
	HookType     string  `json:"hook_type,omitempty"`
	VisualStyle  string  `json:"visual_style,omitempty"`
	EmotionTag   string  `json:"emotion_tag,omitempty"`
	CTR          float64 `json:"ctr"`
	PipelineROAS float64 `json:"pipeline_roas"`
}

type Match struct {
	AdID       string   `json:"ad_id"`
	Similarity float64  `json:"similarity"`
	Metadata   Metadata `json:"metadata"`
}

// Index is an exact inner-product index over L2-normalized embeddings. Vectors live in
// one flat slice so a scan touches contiguous memory. Safe for concurrent use.
type Index struct {
	log  *logger.Logger
	repo repos.WinnerRecordRepo
	dim  int

	mu   sync.RWMutex
	ids  []string
	meta []Metadata
	vecs []float32
	byAd map[string]int
	// dirty maps an ad to the version of its last unpersisted write.
	dirty map[string]uint64
	seq   uint64
}

func NewIndex(baseLog *logger.Logger, repo repos.WinnerRecordRepo, dim int) *Index {
	return &Index{
		log:   baseLog.With("service", "WinnerIndex"),
		repo:  repo,
		dim:   dim,
		byAd:  map[string]int{},
		dirty: map[string]uint64{},
	}
}

func (ix *Index) Dim() int { return ix.dim }

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.ids)
}

func (ix *Index) Contains(adID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.byAd[adID]
	return ok
}

// AddWinner inserts or replaces adID's entry.
func (ix *Index) AddWinner(adID string, embedding []float32, md Metadata) error {
	if adID == "" {
		return ErrEmptyAdID
	}
	v, err := normalized(embedding, ix.dim)
	if err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.put(adID, v, md)
	ix.seq++
	ix.dirty[adID] = ix.seq
	return nil
}

func (ix *Index) put(adID string, v []float32, md Metadata) {
	if pos, ok := ix.byAd[adID]; ok {
		copy(ix.vecs[pos*ix.dim:(pos+1)*ix.dim], v)
		ix.meta[pos] = md
		return
	}
	ix.byAd[adID] = len(ix.ids)
	ix.ids = append(ix.ids, adID)
	ix.meta = append(ix.meta, md)
	ix.vecs = append(ix.vecs, v...)
}

// FindSimilar returns up to k entries ordered by cosine similarity, highest first.
func (ix *Index) FindSimilar(embedding []float32, k int) ([]Match, error) {
	return ix.search(embedding, k, "")
}

// FindSimilarFor is FindSimilar restricted to tenantID's winners and untenanted ones, so
// other tenants never take a slot in the top k. An empty tenantID searches everything.
func (ix *Index) FindSimilarFor(tenantID string, embedding []float32, k int) ([]Match, error) {
	return ix.search(embedding, k, tenantID)
}

func (ix *Index) search(embedding []float32, k int, tenantID string) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}
	q, err := normalized(embedding, ix.dim)
	if err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	h := make(minHeap, 0, k)
	for i := range ix.ids {
		if owner := ix.meta[i].TenantID; tenantID != "" && owner != "" && owner != tenantID {
			continue
		}
		row := ix.vecs[i*ix.dim : (i+1)*ix.dim]
		var dot float64
		for j, x := range row {
			dot += float64(x) * float64(q[j])
		}
		if len(h) < k {
			heap.Push(&h, scored{pos: i, sim: dot})
		} else if dot > h[0].sim {
			h[0] = scored{pos: i, sim: dot}
			heap.Fix(&h, 0)
		}
	}
	out := make([]Match, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		s := heap.Pop(&h).(scored)
		out[i] = Match{
			AdID:       ix.ids[s.pos],
			Similarity: math.Min(1, math.Max(-1, s.sim)),
			Metadata:   ix.meta[s.pos],
		}
	}
	return out, nil
}

// Persist writes entries added since the last Persist or Load.
func (ix *Index) Persist(ctx context.Context) (int, error) {
	if ix.repo == nil {
		return 0, nil
	}
	ix.mu.RLock()
	rows := make([]*types.WinnerRecord, 0, len(ix.dirty))
	written := make(map[string]uint64, len(ix.dirty))
	for adID, version := range ix.dirty {
		written[adID] = version
		pos := ix.byAd[adID]
		vec := make([]float32, ix.dim)
		copy(vec, ix.vecs[pos*ix.dim:(pos+1)*ix.dim])
		md := ix.meta[pos]
		rows = append(rows, &types.WinnerRecord{
			AdID:         adID,
			TenantID:     md.TenantID,
			Dim:          ix.dim,
			Embedding:    pgvector.NewVector(vec),
			HookType:     md.HookType,
			VisualStyle:  md.VisualStyle,
			EmotionTag:   md.EmotionTag,
			CTR:          md.CTR,
			PipelineROAS: md.PipelineROAS,
		})
	}
	ix.mu.RUnlock()
	if len(rows) == 0 {
		return 0, nil
	}
	if err := ix.repo.UpsertMany(dbctx.Background(ctx), rows); err != nil {
		return 0, fmt.Errorf("persist winners: %w", err)
	}
	// Entries replaced while the write was in flight stay dirty for the next Persist.
	ix.mu.Lock()
	for adID, version := range written {
		if ix.dirty[adID] == version {
			delete(ix.dirty, adID)
		}
	}
	ix.mu.Unlock()
	ix.log.Debug("Winner index persisted", "rows", len(rows))
	return len(rows), nil
}

// Load replaces the in-memory index with the persisted snapshot. Rows with a different
// dimension are skipped.
func (ix *Index) Load(ctx context.Context) (int, error) {
	if ix.repo == nil {
		return 0, nil
	}
	rows, err := ix.repo.ListAll(dbctx.Background(ctx))
	if err != nil {
		return 0, fmt.Errorf("load winners: %w", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.ids = ix.ids[:0]
	ix.meta = ix.meta[:0]
	ix.vecs = ix.vecs[:0]
	ix.byAd = make(map[string]int, len(rows))
	ix.dirty = map[string]uint64{}
	skipped := 0
	for _, r := range rows {
		v, err := normalized(r.Embedding.Slice(), ix.dim)
		if err != nil {
			skipped++
			continue
		}
		ix.put(r.AdID, v, Metadata{
			TenantID:     r.TenantID,
			HookType:     r.HookType,
			VisualStyle:  r.VisualStyle,
			EmotionTag:   r.EmotionTag,
			CTR:          r.CTR,
			PipelineROAS: r.PipelineROAS,
		})
	}
	if skipped > 0 {
		ix.log.Warn("Skipped winner rows with unusable embeddings", "skipped", skipped, "dim", ix.dim)
	}
	return len(ix.ids), nil
}

func normalized(v []float32, dim int) ([]float32, error) {
	if len(v) != dim {
		return nil, fmt.Errorf("%w: want %d got %d", ErrDimensionMismatch, dim, len(v))
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, ErrZeroVector
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, dim)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out, nil
}

type scored struct {
	pos int
	sim float64
}

type minHeap []scored

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].sim < h[j].sim }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
