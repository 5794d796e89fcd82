package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
)

var (
	ErrUsernameTaken    = errors.New("username already exists")
	ErrUserNotFound     = errors.New("user not found")
	ErrWrongPassword    = errors.New("old password is wrong")
	ErrPasswordTooShort = errors.New("new password too short")
	ErrProtectedUser    = errors.New("the main administrator cannot be deleted")
)

// MinPasswordLength is the shortest password a member may set.
const MinPasswordLength = 4

// UserService manages committee members and their desk logins.
type UserService struct {
	store    *localcache.Store
	auth     *AuthService
	activity *ActivityService
	log      zerolog.Logger
}

// NewUserService creates a new UserService.
func NewUserService(store *localcache.Store, auth *AuthService, activity *ActivityService, log zerolog.Logger) *UserService {
	return &UserService{
		store:    store,
		auth:     auth,
		activity: activity,
		log:      log.With().Str("component", "user_service").Logger(),
	}
}

// List returns every member.
func (s *UserService) List(ctx context.Context) ([]model.User, error) {
	return localcache.Load[[]model.User](ctx, s.store, model.CollectionUsers)
}

// GetByID returns one member.
func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	users, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == id {
			return &users[i], nil
		}
	}
	return nil, ErrUserNotFound
}

// UserExists reports whether id is still a member.
func (s *UserService) UserExists(ctx context.Context, id string) (bool, error) {
	_, err := s.GetByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Examiners returns every examiner, optionally only those for subject.
func (s *UserService) Examiners(ctx context.Context, subject model.Subject) ([]model.User, error) {
	users, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(users))
	for _, u := range users {
		if u.Role != model.RolePenguji {
			continue
		}
		if subject != "" && (u.Subject == nil || *u.Subject != subject) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// Create adds a member. Usernames are unique on this desk.
func (s *UserService) Create(ctx context.Context, actor model.Actor, req model.CreateUserRequest) (*model.User, error) {
	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	assigned := req.AssignedClasses
	if assigned == nil {
		assigned = []string{}
	}
	user := model.User{
		ID:              model.NewID(),
		Username:        strings.TrimSpace(req.Username),
		Password:        hash,
		Name:            strings.TrimSpace(req.Name),
		Role:            req.Role,
		Subject:         req.Subject,
		AssignedClasses: assigned,
		CreatedAt:       model.Now(),
	}

	err = localcache.Mutate(ctx, s.store, model.CollectionUsers, func(users *[]model.User) error {
		for _, u := range *users {
			if u.Username == user.Username {
				return ErrUsernameTaken
			}
		}
		*users = append(*users, user)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.activity.record(ctx, actor, ActionUserAdd, fmt.Sprintf("Added user: %s (%s)", user.Name, user.Role))
	return &user, nil
}

// Update patches a member's profile.
func (s *UserService) Update(ctx context.Context, id string, req model.UpdateUserRequest) (*model.User, error) {
	var out model.User
	err := localcache.Mutate(ctx, s.store, model.CollectionUsers, func(users *[]model.User) error {
		for i := range *users {
			u := &(*users)[i]
			if u.ID != id {
				continue
			}
			if req.Name != nil {
				u.Name = strings.TrimSpace(*req.Name)
			}
			if req.Role != nil {
				u.Role = *req.Role
			}
			if req.Subject != nil {
				subj := *req.Subject
				u.Subject = &subj
			}
			if req.AssignedClasses != nil {
				u.AssignedClasses = *req.AssignedClasses
			}
			out = *u
			return nil
		}
		return ErrUserNotFound
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a member. The seeded administrator is kept.
func (s *UserService) Delete(ctx context.Context, actor model.Actor, id string) error {
	if id == model.AdminUserID {
		return ErrProtectedUser
	}
	var name string
	err := localcache.Mutate(ctx, s.store, model.CollectionUsers, func(users *[]model.User) error {
		for i := range *users {
			if (*users)[i].ID == id {
				name = (*users)[i].Name
				*users = append((*users)[:i], (*users)[i+1:]...)
				return nil
			}
		}
		return ErrUserNotFound
	})
	if err != nil {
		return err
	}
	s.activity.record(ctx, actor, ActionUserDelete, "Deleted user: "+name)
	return nil
}

// Login checks credentials and issues a session token that expires after
// the sessionTimeout setting. Plaintext passwords are upgraded to bcrypt on
// the first successful login.
func (s *UserService) Login(ctx context.Context, username, password string) (*model.LoginResponse, error) {
	users, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var user *model.User
	for i := range users {
		if users[i].Username == username {
			user = &users[i]
			break
		}
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	needsRehash, err := s.auth.CheckPassword(user.Password, password)
	if err != nil {
		return nil, err
	}
	if needsRehash {
		if err := s.setPassword(ctx, user.ID, password); err != nil {
			s.log.Warn().Err(err).Str("user_id", user.ID).Msg("Password upgrade failed")
		}
	}

	timeout, err := s.sessionTimeout(ctx)
	if err != nil {
		return nil, err
	}
	token, err := s.auth.GenerateSessionToken(user, timeout)
	if err != nil {
		return nil, err
	}

	assigned := user.AssignedClasses
	if assigned == nil {
		assigned = []string{}
	}
	session := model.Session{
		UserID:          user.ID,
		Username:        user.Username,
		Name:            user.Name,
		Role:            user.Role,
		Subject:         user.Subject,
		AssignedClasses: assigned,
		LoginAt:         model.Now(),
	}

	s.activity.record(ctx, model.Actor{UserID: user.ID, UserName: user.Name}, ActionLogin,
		fmt.Sprintf("%s logged in as %s", user.Name, user.Role))
	return &model.LoginResponse{Token: token, Session: session}, nil
}

// Logout records the end of a session. Tokens simply expire.
func (s *UserService) Logout(ctx context.Context, actor model.Actor) {
	s.activity.record(ctx, actor, ActionLogout, actor.UserName+" logged out")
}

// ChangePassword replaces a member's password after checking the old one.
func (s *UserService) ChangePassword(ctx context.Context, actor model.Actor, userID, oldPassword, newPassword string) error {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.auth.CheckPassword(user.Password, oldPassword); err != nil {
		return ErrWrongPassword
	}
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if err := s.setPassword(ctx, userID, newPassword); err != nil {
		return err
	}
	s.activity.record(ctx, actor, ActionPasswordChange, user.Name+" changed password")
	return nil
}

func (s *UserService) setPassword(ctx context.Context, userID, password string) error {
	hash, err := s.auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return localcache.Mutate(ctx, s.store, model.CollectionUsers, func(users *[]model.User) error {
		for i := range *users {
			if (*users)[i].ID == userID {
				(*users)[i].Password = hash
				return nil
			}
		}
		return ErrUserNotFound
	})
}

func (s *UserService) sessionTimeout(ctx context.Context) (time.Duration, error) {
	settings, err := localcache.Load[model.Settings](ctx, s.store, model.CollectionSettings)
	if err != nil {
		return 0, err
	}
	minutes := settings.Int(model.SettingSessionTimeout, 15)
	if minutes <= 0 {
		minutes = 15
	}
	return time.Duration(minutes) * time.Minute, nil
}
