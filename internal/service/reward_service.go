package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/codegen"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
)

var (
	ErrRewardExists     = errors.New("reward already generated")
	ErrInvalidRewardQR  = errors.New("invalid reward qr code")
	ErrRewardClaimed    = errors.New("reward already claimed")
	ErrExaminerNotFound = errors.New("examiner not found")
)

// RewardService hands out and redeems examiner rewards.
type RewardService struct {
	store    *localcache.Store
	users    *UserService
	activity *ActivityService
	codes    *codegen.Generator
	log      zerolog.Logger
}

// NewRewardService creates a new RewardService.
func NewRewardService(store *localcache.Store, users *UserService, activity *ActivityService, log zerolog.Logger) *RewardService {
	return &RewardService{
		store:    store,
		users:    users,
		activity: activity,
		codes:    codegen.New("RW-", codegen.DefaultLength),
		log:      log.With().Str("component", "reward_service").Logger(),
	}
}

// List returns every reward.
func (s *RewardService) List(ctx context.Context) ([]model.ExaminerReward, error) {
	return localcache.Load[[]model.ExaminerReward](ctx, s.store, model.CollectionExaminerRewards)
}

// Lookup finds a reward by its QR code or id.
func (s *RewardService) Lookup(ctx context.Context, code string) (*model.ExaminerReward, error) {
	rewards, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rewards {
		if rewards[i].QRCode == code || rewards[i].ID == code {
			return &rewards[i], nil
		}
	}
	return nil, ErrInvalidRewardQR
}

// Generate creates the one reward an examiner may receive.
func (s *RewardService) Generate(ctx context.Context, actor model.Actor, examinerID string) (*model.ExaminerReward, error) {
	examiner, err := s.users.GetByID(ctx, examinerID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrExaminerNotFound
	}
	if err != nil {
		return nil, err
	}

	var reward model.ExaminerReward
	err = localcache.Mutate(ctx, s.store, model.CollectionExaminerRewards, func(rewards *[]model.ExaminerReward) error {
		taken := make(map[string]struct{}, len(*rewards))
		for _, r := range *rewards {
			if r.ExaminerID == examinerID {
				return ErrRewardExists
			}
			taken[r.QRCode] = struct{}{}
		}
		reward = model.ExaminerReward{
			ID:           model.NewID(),
			ExaminerID:   examiner.ID,
			ExaminerName: examiner.Name,
			Subject:      examiner.Subject,
			QRCode:       s.codes.Generate(taken),
			GeneratedAt:  model.Now(),
		}
		*rewards = append(*rewards, reward)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.activity.record(ctx, actor, ActionRewardGenerate, "Generated reward for "+examiner.Name)
	return &reward, nil
}

// Claim redeems a reward by QR code or id. Unknown and already claimed
// codes leave the rewards untouched.
func (s *RewardService) Claim(ctx context.Context, actor model.Actor, code string) (*model.ExaminerReward, error) {
	var out model.ExaminerReward
	err := localcache.Mutate(ctx, s.store, model.CollectionExaminerRewards, func(rewards *[]model.ExaminerReward) error {
		for i := range *rewards {
			r := &(*rewards)[i]
			if r.QRCode != code && r.ID != code {
				continue
			}
			if r.Claimed {
				return ErrRewardClaimed
			}
			now := model.Now()
			r.Claimed = true
			r.ClaimedAt = &now
			out = *r
			return nil
		}
		return ErrInvalidRewardQR
	})
	if err != nil {
		return nil, err
	}

	s.activity.record(ctx, actor, ActionRewardClaim, "Claimed reward for "+out.ExaminerName)
	return &out, nil
}
