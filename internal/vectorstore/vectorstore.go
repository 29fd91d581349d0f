// Package vectorstore holds helpers shared by the vector store adapters.
package vectorstore

import (
	"sort"

	"github.com/google/uuid"

	"trialwhisperer/internal/domain"
)

var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://clinicaltrials.gov/chunks"))

// PointID derives a stable UUID for a chunk, so re-indexing overwrites
// rather than duplicates.
func PointID(c domain.Chunk) string {
	return uuid.NewSHA1(pointNamespace, []byte(c.Key())).String()
}

// SortHits orders hits by descending score, then ascending sequence index,
// then trial id and section so ties are deterministic.
func SortHits(hits []domain.SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.SequenceIndex != b.Chunk.SequenceIndex {
			return a.Chunk.SequenceIndex < b.Chunk.SequenceIndex
		}
		if a.Chunk.TrialID != b.Chunk.TrialID {
			return a.Chunk.TrialID < b.Chunk.TrialID
		}
		return a.Chunk.Section < b.Chunk.Section
	})
}
