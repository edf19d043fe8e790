// Package presence maintains an in-memory mirror of every user record,
// keeps it synchronized across processes through pub/sub deltas, and owns
// the self-publish path with its retry outbox.
package presence

import (
	"github.com/TotoB12/loco/geo"
	"github.com/TotoB12/loco/model"
)

// Record is the mirrored view of one user: identity, last known fix, and
// both sides of the friend graph as seen from this user.
type Record struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Location  *geo.Point      `json:"location,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // unix ms of the fix
	Friends   map[string]bool `json:"friends,omitempty"`
	Requests  map[string]bool `json:"requests,omitempty"` // pending requests received, keyed by requester
}

// Snapshot is a point-in-time copy of the full mirror, keyed by user id.
type Snapshot map[string]Record

// Clone returns a deep copy safe to hand to subscribers.
func (r *Record) Clone() Record {
	out := Record{
		ID:        r.ID,
		Name:      r.Name,
		Timestamp: r.Timestamp,
	}
	if r.Location != nil {
		loc := *r.Location
		out.Location = &loc
	}
	if len(r.Friends) > 0 {
		out.Friends = make(map[string]bool, len(r.Friends))
		for k, v := range r.Friends {
			out.Friends[k] = v
		}
	}
	if len(r.Requests) > 0 {
		out.Requests = make(map[string]bool, len(r.Requests))
		for k, v := range r.Requests {
			out.Requests[k] = v
		}
	}
	return out
}

// recordFromModel builds a Record from a user row plus its relation rows.
func recordFromModel(u *model.User, edges []model.FriendEdge, reqs []model.FriendRequest) *Record {
	rec := &Record{
		ID:        u.ID,
		Name:      u.Name,
		Timestamp: u.Timestamp,
	}
	if u.Latitude != nil && u.Longitude != nil {
		rec.Location = &geo.Point{Latitude: *u.Latitude, Longitude: *u.Longitude}
	}
	if len(edges) > 0 {
		rec.Friends = make(map[string]bool, len(edges))
		for _, e := range edges {
			rec.Friends[e.PeerID] = true
		}
	}
	if len(reqs) > 0 {
		rec.Requests = make(map[string]bool, len(reqs))
		for _, q := range reqs {
			rec.Requests[q.RequesterID] = true
		}
	}
	return rec
}
