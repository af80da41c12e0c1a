package search

import (
	"math"
	"sort"
	"time"

	"github.com/studyengine/core/internal/domain"
)

const (
	decayHalfLifeDays = 90.0
	loMatchBoost      = 0.05
	defaultTopK       = 5
)

// Index is an in-memory evidence-chunk corpus. Chunks without a
// precomputed embedding are embedded lazily on load.
type Index struct {
	chunks []domain.EvidenceChunk
}

// NewIndex builds an Index over chunks, computing any missing
// embedding via HashEmbed(chunk.Text).
func NewIndex(chunks []domain.EvidenceChunk) *Index {
	out := make([]domain.EvidenceChunk, len(chunks))
	copy(out, chunks)
	for i, c := range out {
		if len(c.Embedding) == 0 {
			out[i].Embedding = HashEmbed(c.Text)
		}
	}
	return &Index{chunks: out}
}

// Query parameters for a search request.
type Query struct {
	Text  string
	LOIds []string
	Since time.Time
	K     int
}

// Result is one ranked evidence chunk.
type Result struct {
	Chunk domain.EvidenceChunk `json:"chunk"`
	Score float64               `json:"score"`
}

// Search returns the top-K chunks ranked by cosine similarity to q.Text,
// scaled by temporal decay from each chunk's Ts (relative to now) and
// boosted by LO overlap with q.LOIds. Chunks older than q.Since (if
// set) are excluded.
func (idx *Index) Search(q Query, now time.Time) []Result {
	k := q.K
	if k <= 0 {
		k = defaultTopK
	}
	queryVec := HashEmbed(q.Text)
	loSet := map[string]bool{}
	for _, id := range q.LOIds {
		loSet[id] = true
	}

	var results []Result
	for _, c := range idx.chunks {
		if !q.Since.IsZero() && c.Ts.Before(q.Since) {
			continue
		}
		sim := CosineSimilarity(queryVec, c.Embedding)
		deltaDays := now.Sub(c.Ts).Hours() / 24.0
		if deltaDays < 0 {
			deltaDays = 0
		}
		decay := math.Exp(-math.Ln2 * deltaDays / decayHalfLifeDays)
		boost := 0.0
		for _, loID := range c.LOIds {
			if loSet[loID] {
				boost += loMatchBoost
			}
		}
		score := sim*decay + boost
		results = append(results, Result{Chunk: c, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ItemID < results[j].Chunk.ItemID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}
