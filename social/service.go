// Package social owns the friend graph: directed requests, symmetric
// friendship edges, and the transitions between them. Both rows of a
// symmetric edge are written in one transaction, and the reconciler repairs
// pairs that still end up one-sided.
package social

import (
	"context"
	"errors"

	"github.com/TotoB12/loco/model"
	"github.com/TotoB12/loco/presence"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSelfRelation   = errors.New("social: cannot relate a user to itself")
	ErrUserNotFound   = errors.New("social: user not found")
	ErrAlreadyFriends = errors.New("social: already friends")
	ErrRequestExists  = errors.New("social: request already pending")
	ErrNoRequest      = errors.New("social: no pending request")
	ErrNotFriends     = errors.New("social: not friends")
)

// Service executes friend-graph transitions against the database and pushes
// the affected users through the presence store so every mirror converges.
type Service struct {
	db     *gorm.DB
	store  *presence.Store
	logger *zap.Logger
}

// New creates a Service.
func New(db *gorm.DB, store *presence.Store, logger *zap.Logger) *Service {
	return &Service{db: db, store: store, logger: logger}
}

// SendRequest records a pending request from requester to recipient.
func (s *Service) SendRequest(ctx context.Context, requesterID, recipientID string) error {
	if requesterID == recipientID {
		return ErrSelfRelation
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := mustExist(tx, recipientID); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&model.FriendEdge{}).
			Where("owner_id = ? AND peer_id = ?", requesterID, recipientID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyFriends
		}
		if err := tx.Model(&model.FriendRequest{}).
			Where("recipient_id = ? AND requester_id = ?", recipientID, requesterID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrRequestExists
		}
		return tx.Create(&model.FriendRequest{
			RecipientID: recipientID,
			RequesterID: requesterID,
		}).Error
	})
	if err != nil {
		return err
	}
	return s.store.Refresh(ctx, recipientID)
}

// CancelRequest withdraws a request the requester previously sent.
func (s *Service) CancelRequest(ctx context.Context, requesterID, recipientID string) error {
	return s.removeRequest(ctx, recipientID, requesterID)
}

// RejectRequest discards a request the recipient received.
func (s *Service) RejectRequest(ctx context.Context, recipientID, requesterID string) error {
	return s.removeRequest(ctx, recipientID, requesterID)
}

func (s *Service) removeRequest(ctx context.Context, recipientID, requesterID string) error {
	tx := s.db.WithContext(ctx).
		Where("recipient_id = ? AND requester_id = ?", recipientID, requesterID).
		Delete(&model.FriendRequest{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNoRequest
	}
	return s.store.Refresh(ctx, recipientID)
}

// AcceptRequest turns a pending request into a symmetric friendship. The
// request removal and both edge rows commit in one transaction.
func (s *Service) AcceptRequest(ctx context.Context, recipientID, requesterID string) error {
	if recipientID == requesterID {
		return ErrSelfRelation
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("recipient_id = ? AND requester_id = ?", recipientID, requesterID).
			Delete(&model.FriendRequest{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoRequest
		}
		// A crossed request in the other direction becomes moot.
		if err := tx.Where("recipient_id = ? AND requester_id = ?", requesterID, recipientID).
			Delete(&model.FriendRequest{}).Error; err != nil {
			return err
		}
		edges := []model.FriendEdge{
			{OwnerID: recipientID, PeerID: requesterID},
			{OwnerID: requesterID, PeerID: recipientID},
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edges).Error
	})
	if err != nil {
		return err
	}
	return s.store.Refresh(ctx, recipientID, requesterID)
}

// Unfriend removes a friendship from both sides. Either party may call it.
func (s *Service) Unfriend(ctx context.Context, userID, peerID string) error {
	if userID == peerID {
		return ErrSelfRelation
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where(
			"(owner_id = ? AND peer_id = ?) OR (owner_id = ? AND peer_id = ?)",
			userID, peerID, peerID, userID,
		).Delete(&model.FriendEdge{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFriends
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.store.Refresh(ctx, userID, peerID)
}

// ToggleRequest sends a request if none is pending, or cancels the pending
// one. The read and the write share a transaction so the toggle cannot race
// itself. It reports whether a request is pending afterwards.
func (s *Service) ToggleRequest(ctx context.Context, requesterID, recipientID string) (bool, error) {
	if requesterID == recipientID {
		return false, ErrSelfRelation
	}
	var pending bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("recipient_id = ? AND requester_id = ?", recipientID, requesterID).
			Delete(&model.FriendRequest{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			pending = false
			return nil
		}
		if err := mustExist(tx, recipientID); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&model.FriendEdge{}).
			Where("owner_id = ? AND peer_id = ?", requesterID, recipientID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyFriends
		}
		pending = true
		return tx.Create(&model.FriendRequest{
			RecipientID: recipientID,
			RequesterID: requesterID,
		}).Error
	})
	if err != nil {
		return false, err
	}
	return pending, s.store.Refresh(ctx, recipientID)
}

// Friends returns the user's friends.
func (s *Service) Friends(ctx context.Context, userID string) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).
		Joins("JOIN friend_edges ON friend_edges.peer_id = users.id").
		Where("friend_edges.owner_id = ?", userID).
		Order("users.name").
		Find(&users).Error
	return users, err
}

// PendingRequests returns the users who have requested friendship with userID.
func (s *Service) PendingRequests(ctx context.Context, userID string) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).
		Joins("JOIN friend_requests ON friend_requests.requester_id = users.id").
		Where("friend_requests.recipient_id = ?", userID).
		Order("friend_requests.created_at").
		Find(&users).Error
	return users, err
}

// DeleteAccount removes the user's record and strips the id from every
// other user's edges and requests, all in one transaction.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	affected := map[string]bool{userID: true}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var edges []model.FriendEdge
		if err := tx.Where("owner_id = ? OR peer_id = ?", userID, userID).
			Find(&edges).Error; err != nil {
			return err
		}
		for _, e := range edges {
			affected[e.OwnerID] = true
			affected[e.PeerID] = true
		}
		var reqs []model.FriendRequest
		if err := tx.Where("recipient_id = ? OR requester_id = ?", userID, userID).
			Find(&reqs).Error; err != nil {
			return err
		}
		for _, q := range reqs {
			affected[q.RecipientID] = true
			affected[q.RequesterID] = true
		}

		if err := tx.Where("owner_id = ? OR peer_id = ?", userID, userID).
			Delete(&model.FriendEdge{}).Error; err != nil {
			return err
		}
		if err := tx.Where("recipient_id = ? OR requester_id = ?", userID, userID).
			Delete(&model.FriendRequest{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.User{}, "id = ?", userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	return s.store.Refresh(ctx, ids...)
}

func mustExist(tx *gorm.DB, userID string) error {
	var n int64
	if err := tx.Model(&model.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
