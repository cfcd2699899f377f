package tracking

import (
	"sync"
	"time"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/rs/zerolog/log"
)

// Unknown is the identity of an unmatched face.
const Unknown = "unknown"

// minVotes is the window length from which temporal smoothing applies.
const minVotes = 3

// Matcher is the read side of the identity index.
type Matcher interface {
	Query(embedding []float32, k int) ([]database.IdentityMatch, error)
	LabelCount() int
}

// ScoreHistory exposes recent match scores of an identity.
type ScoreHistory interface {
	RecentScores(identity string) []float64
}

// ResolverConfig tunes the identity decision.
type ResolverConfig struct {
	BaseThreshold float64       // minimum candidate similarity
	TopK          int           // candidates per query
	HistoryMin    int           // scores needed before the threshold adapts
	VoteWindow    int           // votes kept per (camera, identity)
	VoteGap       time.Duration // silence that resets a vote window
}

// Resolution is the outcome for one observation.
type Resolution struct {
	Identity   string
	Score      float64
	Known      bool
	Similarity float64 // best raw similarity, before smoothing
}

type vote struct {
	identity string
	score    float64
	at       time.Time
}

type voteKey struct {
	camera   string
	identity string
}

// IdentityResolver turns embeddings into identity decisions: nearest
// neighbours above a base threshold, a per-identity adaptive threshold and
// a short voting window per camera.
type IdentityResolver struct {
	index   Matcher
	cache   *SimilarityCache
	history ScoreHistory
	cfg     ResolverConfig

	mu    sync.Mutex
	votes map[voteKey][]vote
}

// NewIdentityResolver creates a resolver. cache and history may be nil.
func NewIdentityResolver(index Matcher, cache *SimilarityCache, history ScoreHistory, cfg ResolverConfig) *IdentityResolver {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.HistoryMin <= 0 {
		cfg.HistoryMin = 5
	}
	if cfg.VoteWindow <= 0 {
		cfg.VoteWindow = 5
	}
	if cfg.VoteGap <= 0 {
		cfg.VoteGap = 2 * time.Second
	}
	return &IdentityResolver{
		index:   index,
		cache:   cache,
		history: history,
		cfg:     cfg,
		votes:   make(map[voteKey][]vote),
	}
}

// Resolve decides the identity behind an embedding seen on a camera.
func (r *IdentityResolver) Resolve(cameraID string, embedding []float32, now time.Time) Resolution {
	label, sim := r.bestMatch(embedding)
	if label == "" {
		return Resolution{Identity: Unknown, Similarity: sim}
	}
	if sim < r.AdaptiveThreshold(label) {
		return Resolution{Identity: Unknown, Similarity: sim}
	}

	identity, score := r.smooth(cameraID, label, sim, now)
	return Resolution{Identity: identity, Score: score, Known: true, Similarity: sim}
}

// bestMatch returns the label with the highest similarity above the base
// threshold, or an empty label. Search failures count as no match.
func (r *IdentityResolver) bestMatch(embedding []float32) (string, float64) {
	if r.cache != nil {
		if label, sim, ok := r.cache.Get(embedding); ok {
			return label, sim
		}
	}

	k := min(r.cfg.TopK, r.index.LabelCount())
	if k <= 0 {
		return "", 0
	}
	matches, err := r.index.Query(embedding, k)
	if err != nil {
		log.Warn().Err(err).Msg("identity index search failed")
		return "", 0
	}

	perLabel := make(map[string]float64, len(matches))
	for _, m := range matches {
		if m.Similarity <= r.cfg.BaseThreshold {
			continue
		}
		if m.Similarity > perLabel[m.Label] {
			perLabel[m.Label] = m.Similarity
		}
	}

	var bestLabel string
	var bestSim float64
	for label, sim := range perLabel {
		if sim > bestSim || (sim == bestSim && label < bestLabel) {
			bestLabel, bestSim = label, sim
		}
	}

	if r.cache != nil {
		r.cache.Set(embedding, bestLabel, bestSim)
	}
	return bestLabel, bestSim
}

// AdaptiveThreshold is the acceptance bar of an identity: 10% lower when its
// recent scores average above 0.8, 10% higher when below 0.6.
func (r *IdentityResolver) AdaptiveThreshold(identity string) float64 {
	base := r.cfg.BaseThreshold
	if r.history == nil {
		return base
	}
	scores := r.history.RecentScores(identity)
	if len(scores) < r.cfg.HistoryMin {
		return base
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))
	switch {
	case mean > 0.8:
		return base * 0.9
	case mean < 0.6:
		return base * 1.1
	default:
		return base
	}
}

func (r *IdentityResolver) smooth(cameraID, identity string, score float64, now time.Time) (string, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := voteKey{camera: cameraID, identity: identity}
	window := r.votes[key]
	if n := len(window); n > 0 && now.Sub(window[n-1].at) > r.cfg.VoteGap {
		window = window[:0]
	}
	window = append(window, vote{identity: identity, score: score, at: now})
	if len(window) > r.cfg.VoteWindow {
		window = append(window[:0], window[len(window)-r.cfg.VoteWindow:]...)
	}
	r.votes[key] = window

	if len(window) < minVotes {
		return identity, score
	}

	best := make(map[string]float64)
	var sum float64
	for _, v := range window {
		sum += v.score
		if v.score > best[v.identity] {
			best[v.identity] = v.score
		}
	}
	var winner string
	var winnerScore float64
	for id, s := range best {
		if s > winnerScore || (s == winnerScore && id < winner) {
			winner, winnerScore = id, s
		}
	}
	return winner, min(winnerScore, sum/float64(len(window)))
}

// ClearCache drops memoized matches. Called after every full index rebuild.
func (r *IdentityResolver) ClearCache() {
	if r.cache != nil {
		r.cache.Clear()
	}
}

// Forget drops the vote windows of an identity.
func (r *IdentityResolver) Forget(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.votes {
		if k.identity == identity {
			delete(r.votes, k)
		}
	}
}
