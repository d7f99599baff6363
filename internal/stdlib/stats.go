package stdlib

type statsCounters struct {
	Hits         uint64
	Misses       uint64
	Evictions    uint64
	NegativeHits uint64
}

// Stats is a point-in-time cache snapshot.
type Stats struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Evictions     uint64  `json:"evictions"`
	NegativeHits  uint64  `json:"negative_hits"`
	ModuleCount   int     `json:"module_count"`
	NegativeCount int     `json:"negative_count"`
	MemoryBytes   int64   `json:"memory_bytes"`
	HitRate       float64 `json:"hit_rate"` // percent; 0 with no requests
}

func (ix *Index) Stats() Stats {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	s := Stats{
		Hits:          ix.stats.Hits,
		Misses:        ix.stats.Misses,
		Evictions:     ix.stats.Evictions,
		NegativeHits:  ix.stats.NegativeHits,
		ModuleCount:   len(ix.modules),
		NegativeCount: len(ix.negative),
		MemoryBytes:   ix.memBytes,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total) * 100
	}
	return s
}
