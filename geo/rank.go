package geo

import (
	"math"
	"sort"
	"strings"
)

// Candidate is one user considered for the nearby ranking.
type Candidate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location *Point `json:"location,omitempty"`
	Friend   bool   `json:"friend"`
}

// Ranked is a candidate annotated with its distance from the origin.
// DistanceKm is +Inf when either side has no fix.
type Ranked struct {
	Candidate
	DistanceKm float64 `json:"distance_km"`
}

// Rank returns all candidates annotated with great-circle distance from
// origin, filtered by a case-insensitive name substring and optionally to
// friends only, sorted ascending by distance. Candidates without a fix sort
// last. The sort is stable: equal distances keep their input order.
func Rank(origin *Point, candidates []Candidate, query string, friendsOnly bool) []Ranked {
	query = strings.ToLower(query)

	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		if friendsOnly && !c.Friend {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(c.Name), query) {
			continue
		}
		d := math.Inf(1)
		if origin != nil && c.Location != nil {
			d = DistanceKm(*origin, *c.Location)
		}
		out = append(out, Ranked{Candidate: c, DistanceKm: d})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceKm < out[j].DistanceKm
	})
	return out
}
