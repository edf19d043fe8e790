package social

import (
	"context"
	"time"

	"github.com/TotoB12/loco/cache"
	"github.com/TotoB12/loco/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	reconcileLockKey = "social:reconcile:lock"
	reconcileLockTTL = 30 * time.Second
)

// Reconciler repairs the friend graph: it completes one-sided edges left by
// a crashed accept, drops requests between users who are already friends,
// and removes rows that reference deleted users. One instance runs per
// cluster at a time, guarded by a cache lock.
type Reconciler struct {
	svc    *Service
	cache  cache.Cache
	logger *zap.Logger
}

// NewReconciler creates a Reconciler over the same database as svc.
func NewReconciler(svc *Service, c cache.Cache, logger *zap.Logger) *Reconciler {
	return &Reconciler{svc: svc, cache: c, logger: logger}
}

// Run performs one reconciliation pass. Meant to run on a scheduler tick.
func (r *Reconciler) Run(ctx context.Context) {
	ok, err := r.cache.SetNX(ctx, reconcileLockKey, "1", reconcileLockTTL)
	if err != nil {
		r.logger.Warn("reconcile lock failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := r.cache.Del(ctx, reconcileLockKey); err != nil {
			r.logger.Warn("reconcile unlock failed", zap.Error(err))
		}
	}()

	touched, err := r.pass(ctx)
	if err != nil {
		r.logger.Error("reconcile pass failed", zap.Error(err))
		return
	}
	if len(touched) == 0 {
		return
	}
	r.logger.Info("friend graph reconciled", zap.Int("users", len(touched)))
	if err := r.svc.store.Refresh(ctx, touched...); err != nil {
		r.logger.Warn("reconcile refresh failed", zap.Error(err))
	}
}

func (r *Reconciler) pass(ctx context.Context) ([]string, error) {
	db := r.svc.db.WithContext(ctx)
	touched := make(map[string]bool)
	userIDs := func() *gorm.DB {
		return r.svc.db.Model(&model.User{}).Select("id")
	}

	// Drop edges and requests that point at deleted users.
	var orphanEdges []model.FriendEdge
	if err := db.
		Where("owner_id NOT IN (?) OR peer_id NOT IN (?)", userIDs(), userIDs()).
		Find(&orphanEdges).Error; err != nil {
		return nil, err
	}
	for _, e := range orphanEdges {
		touched[e.OwnerID] = true
		touched[e.PeerID] = true
		if err := db.Delete(&model.FriendEdge{}, e.ID).Error; err != nil {
			return nil, err
		}
	}

	var orphanReqs []model.FriendRequest
	if err := db.
		Where("recipient_id NOT IN (?) OR requester_id NOT IN (?)", userIDs(), userIDs()).
		Find(&orphanReqs).Error; err != nil {
		return nil, err
	}
	for _, q := range orphanReqs {
		touched[q.RecipientID] = true
		touched[q.RequesterID] = true
		if err := db.Delete(&model.FriendRequest{}, q.ID).Error; err != nil {
			return nil, err
		}
	}

	// Complete one-sided edges: both users consented, so the missing reverse
	// row wins over deleting the surviving one.
	var edges []model.FriendEdge
	if err := db.Find(&edges).Error; err != nil {
		return nil, err
	}
	have := make(map[[2]string]bool, len(edges))
	for _, e := range edges {
		have[[2]string{e.OwnerID, e.PeerID}] = true
	}
	for _, e := range edges {
		if have[[2]string{e.PeerID, e.OwnerID}] {
			continue
		}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.FriendEdge{OwnerID: e.PeerID, PeerID: e.OwnerID}).Error; err != nil {
			return nil, err
		}
		have[[2]string{e.PeerID, e.OwnerID}] = true
		touched[e.OwnerID] = true
		touched[e.PeerID] = true
	}

	// A pending request between friends is leftover state from a partially
	// applied accept.
	var reqs []model.FriendRequest
	if err := db.Find(&reqs).Error; err != nil {
		return nil, err
	}
	for _, q := range reqs {
		if !have[[2]string{q.RecipientID, q.RequesterID}] {
			continue
		}
		if err := db.Delete(&model.FriendRequest{}, q.ID).Error; err != nil {
			return nil, err
		}
		touched[q.RecipientID] = true
	}

	out := make([]string, 0, len(touched))
	for id := range touched {
		out = append(out, id)
	}
	return out, nil
}
