package presence

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TotoB12/loco/cache"
	"github.com/TotoB12/loco/config"
	"github.com/TotoB12/loco/geo"
	"github.com/TotoB12/loco/identity"
	"github.com/TotoB12/loco/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	eventsChannel = "presence:events"
	onlineHashKey = "presence:online"
)

// ErrUnknownUser is returned when a publish targets an id with no record.
var ErrUnknownUser = errors.New("presence: unknown user")

// changeEvent travels over pub/sub; receivers reload the named users from
// the database so every mirror converges on the same state.
type changeEvent struct {
	UserIDs []string `json:"user_ids"`
}

// Update is a partial self-merge. Nil fields are left untouched; latitude
// and longitude must be set together.
type Update struct {
	Name      *string
	Latitude  *float64
	Longitude *float64
	Timestamp int64 // unix ms; zero means now
}

// Result reports what a publish actually did.
type Result struct {
	Renamed bool `json:"renamed"`
	Moved   bool `json:"moved"`
	// Queued is set when the database write failed and the update was
	// parked in the retry outbox instead.
	Queued bool `json:"queued"`
}

// Store is the process-local mirror of all user records.
type Store struct {
	db     *gorm.DB
	cache  cache.Cache
	pubsub cache.PubSub
	cfg    config.PresenceConfig
	logger *zap.Logger
	outbox *Outbox

	mu     sync.RWMutex
	mirror map[string]*Record

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

// NewStore creates a Store. Call Load to fill the mirror and Start to begin
// applying remote deltas.
func NewStore(db *gorm.DB, c cache.Cache, ps cache.PubSub, cfg config.PresenceConfig, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		cache:  c,
		pubsub: ps,
		cfg:    cfg,
		logger: logger,
		outbox: NewOutbox(cfg.OutboxCapacity, logger),
		mirror: make(map[string]*Record),
		subs:   make(map[int]chan Snapshot),
	}
}

// Outbox exposes the retry queue, mainly for the scheduler pump and metrics.
func (s *Store) Outbox() *Outbox {
	return s.outbox
}

// Load replaces the mirror with the full database state.
func (s *Store) Load(ctx context.Context) error {
	var users []model.User
	if err := s.db.WithContext(ctx).Find(&users).Error; err != nil {
		return err
	}
	var edges []model.FriendEdge
	if err := s.db.WithContext(ctx).Find(&edges).Error; err != nil {
		return err
	}
	var reqs []model.FriendRequest
	if err := s.db.WithContext(ctx).Find(&reqs).Error; err != nil {
		return err
	}

	edgesByOwner := make(map[string][]model.FriendEdge)
	for _, e := range edges {
		edgesByOwner[e.OwnerID] = append(edgesByOwner[e.OwnerID], e)
	}
	reqsByRecipient := make(map[string][]model.FriendRequest)
	for _, q := range reqs {
		reqsByRecipient[q.RecipientID] = append(reqsByRecipient[q.RecipientID], q)
	}

	mirror := make(map[string]*Record, len(users))
	for i := range users {
		u := &users[i]
		mirror[u.ID] = recordFromModel(u, edgesByOwner[u.ID], reqsByRecipient[u.ID])
	}

	s.mu.Lock()
	s.mirror = mirror
	s.mu.Unlock()
	s.notify()
	s.logger.Info("presence mirror loaded", zap.Int("users", len(users)))
	return nil
}

// Start subscribes to the change stream and applies deltas until ctx ends.
func (s *Store) Start(ctx context.Context) error {
	ch, cancel, err := s.pubsub.Subscribe(ctx, eventsChannel)
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev changeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger.Warn("bad presence event", zap.Error(err))
					continue
				}
				if err := s.refreshLocal(ctx, ev.UserIDs...); err != nil {
					s.logger.Error("presence delta apply failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Refresh reloads the given users from the database, updates the local
// mirror, and broadcasts a delta so other processes do the same.
func (s *Store) Refresh(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.refreshLocal(ctx, ids...); err != nil {
		return err
	}
	payload, _ := json.Marshal(changeEvent{UserIDs: ids})
	if err := s.pubsub.Publish(ctx, eventsChannel, string(payload)); err != nil {
		s.logger.Warn("presence delta publish failed", zap.Error(err))
	}
	return nil
}

func (s *Store) refreshLocal(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		var u model.User
		err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.mu.Lock()
			delete(s.mirror, id)
			s.mu.Unlock()
			continue
		}
		if err != nil {
			return err
		}
		var edges []model.FriendEdge
		if err := s.db.WithContext(ctx).Where("owner_id = ?", id).Find(&edges).Error; err != nil {
			return err
		}
		var reqs []model.FriendRequest
		if err := s.db.WithContext(ctx).Where("recipient_id = ?", id).Find(&reqs).Error; err != nil {
			return err
		}
		rec := recordFromModel(&u, edges, reqs)
		s.mu.Lock()
		s.mirror[id] = rec
		s.mu.Unlock()
	}
	s.notify()
	return nil
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.mirror[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns a deep copy of the whole mirror.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.mirror))
	for id, rec := range s.mirror {
		out[id] = rec.Clone()
	}
	return out
}

// Subscribe registers a listener that receives a full snapshot after every
// applied change. Slow listeners skip intermediate snapshots rather than
// blocking the store.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	snap := s.Snapshot()

	// Register and prime under subMu. notify only sends while holding the
	// same lock, so the buffer is still empty here and the priming send
	// cannot block.
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- snap
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify() {
	snap := s.Snapshot()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		// Keep only the latest snapshot per listener.
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// PublishSelf merges a partial update into the caller's own record. A
// location change smaller than the movement threshold is dropped; a failed
// database write parks the update in the retry outbox.
func (s *Store) PublishSelf(ctx context.Context, userID string, u Update) (Result, error) {
	var res Result

	current, ok := s.Get(userID)
	if !ok {
		// Mirror may lag behind a registration on another process.
		if err := s.refreshLocal(ctx, userID); err != nil {
			return res, err
		}
		current, ok = s.Get(userID)
		if !ok {
			return res, ErrUnknownUser
		}
	}

	fields := make(map[string]interface{})

	if u.Name != nil {
		if name := s.clampName(*u.Name); name != current.Name {
			fields["name"] = name
			res.Renamed = true
		}
	}

	if u.Latitude != nil && u.Longitude != nil {
		next := geo.Point{Latitude: *u.Latitude, Longitude: *u.Longitude}
		if current.Location == nil || geo.DistanceMeters(*current.Location, next) >= s.cfg.MinMoveMeters {
			ts := u.Timestamp
			if ts == 0 {
				ts = time.Now().UnixMilli()
			}
			fields["latitude"] = *u.Latitude
			fields["longitude"] = *u.Longitude
			fields["timestamp"] = ts
			res.Moved = true
		}
	}

	if len(fields) == 0 {
		return res, nil
	}

	if err := s.applyToDB(ctx, userID, fields); err != nil {
		s.logger.Warn("self publish write failed, queueing",
			zap.String("user_id", userID), zap.Error(err))
		if !s.outbox.Put(userID, u) {
			return res, err
		}
		res.Queued = true
		return res, nil
	}

	return res, s.Refresh(ctx, userID)
}

// clampName enforces the configured display-name cap on every path that
// writes a name; the identity default applies when config leaves it unset.
func (s *Store) clampName(name string) string {
	max := s.cfg.MaxNameLength
	if max <= 0 {
		max = identity.MaxNameLength
	}
	return identity.TruncateRunes(strings.TrimSpace(name), max)
}

func (s *Store) applyToDB(ctx context.Context, userID string, fields map[string]interface{}) error {
	tx := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrUnknownUser
	}
	return nil
}

// PumpOutbox retries queued updates. Meant to run on a scheduler tick.
func (s *Store) PumpOutbox(ctx context.Context) {
	s.outbox.Flush(ctx, func(ctx context.Context, userID string, u Update) error {
		fields := make(map[string]interface{})
		if u.Name != nil {
			fields["name"] = s.clampName(*u.Name)
		}
		if u.Latitude != nil && u.Longitude != nil {
			ts := u.Timestamp
			if ts == 0 {
				ts = time.Now().UnixMilli()
			}
			fields["latitude"] = *u.Latitude
			fields["longitude"] = *u.Longitude
			fields["timestamp"] = ts
		}
		if len(fields) == 0 {
			return nil
		}
		if err := s.applyToDB(ctx, userID, fields); err != nil {
			return err
		}
		return s.Refresh(ctx, userID)
	})
}

// ---- online registry ----

// SetOnline marks a user online until now+TTL. Called on every client ping.
func (s *Store) SetOnline(ctx context.Context, userID string) error {
	deadline := time.Now().Add(s.cfg.OnlineTTL).UnixMilli()
	return s.cache.HSet(ctx, onlineHashKey, userID, strconv.FormatInt(deadline, 10))
}

// SetOffline removes a user from the online registry.
func (s *Store) SetOffline(ctx context.Context, userID string) error {
	return s.cache.HDel(ctx, onlineHashKey, userID)
}

// IsOnline reports whether the user has a live, unexpired mark.
func (s *Store) IsOnline(ctx context.Context, userID string) bool {
	raw, err := s.cache.HGet(ctx, onlineHashKey, userID)
	if err != nil || raw == "" {
		return false
	}
	deadline, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return deadline > time.Now().UnixMilli()
}

// OnlineIDs returns the set of users with an unexpired mark.
func (s *Store) OnlineIDs(ctx context.Context) map[string]bool {
	all, err := s.cache.HGetAll(ctx, onlineHashKey)
	if err != nil {
		return nil
	}
	now := time.Now().UnixMilli()
	out := make(map[string]bool)
	for id, raw := range all {
		if deadline, err := strconv.ParseInt(raw, 10, 64); err == nil && deadline > now {
			out[id] = true
		}
	}
	return out
}

// SweepOnline deletes expired marks. Meant to run on a scheduler tick.
func (s *Store) SweepOnline(ctx context.Context) {
	all, err := s.cache.HGetAll(ctx, onlineHashKey)
	if err != nil {
		s.logger.Warn("online sweep read failed", zap.Error(err))
		return
	}
	now := time.Now().UnixMilli()
	var expired []string
	for id, raw := range all {
		deadline, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || deadline <= now {
			expired = append(expired, id)
		}
	}
	if len(expired) == 0 {
		return
	}
	if err := s.cache.HDel(ctx, onlineHashKey, expired...); err != nil {
		s.logger.Warn("online sweep delete failed", zap.Error(err))
		return
	}
	s.logger.Debug("online registry swept", zap.Int("expired", len(expired)))
}
