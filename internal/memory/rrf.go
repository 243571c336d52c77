package memory

// rrfK is Reciprocal Rank Fusion's smoothing constant (§4.3).
const rrfK = 60

// fuse combines per-term BM25 and vector rankings into a single RRF score per
// node: score(d) = sum over all rankings containing d of 1/(k + rank).
func fuse(bm25, vector map[string][]RankedHit) map[string]float64 {
	scores := make(map[string]float64)
	add := func(byTerm map[string][]RankedHit) {
		for _, hits := range byTerm {
			for _, h := range hits {
				scores[h.NodeID] += 1.0 / float64(rrfK+h.Rank)
			}
		}
	}
	add(bm25)
	add(vector)
	return scores
}
