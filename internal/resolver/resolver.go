package resolver

import "context"

// Candidate is one release of a movie offered by a torrent index.
type Candidate struct {
	Title     string
	Quality   string
	Hash      string
	URL       string
	Seeders   int64
	Peers     int64
	SizeBytes int64
}

// Index lists release candidates for a movie. Implementations never fail the
// watch flow: lookup problems surface as an empty candidate list.
type Index interface {
	Candidates(ctx context.Context, imdbID, titleHint string) []Candidate
}

// SelectBest picks the release to download: 1080p with seeders, then 720p
// with seeders, then anything with seeders, then the first candidate. The
// result depends only on candidate order, never on call order.
func SelectBest(candidates []Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}

	if c := firstSeeded(candidates, "1080p"); c != nil {
		return c
	}

	if c := firstSeeded(candidates, "720p"); c != nil {
		return c
	}

	if c := firstSeeded(candidates, ""); c != nil {
		return c
	}

	return &candidates[0]
}

func firstSeeded(candidates []Candidate, quality string) *Candidate {
	for i := range candidates {
		if candidates[i].Seeders <= 0 {
			continue
		}

		if quality == "" || candidates[i].Quality == quality {
			return &candidates[i]
		}
	}

	return nil
}
