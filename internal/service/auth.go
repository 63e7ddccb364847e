package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/linkstash-io/linkstash-back/internal/db"
	"github.com/linkstash-io/linkstash-back/internal/session"
)

type Auth struct {
	db       *gorm.DB
	notifier *session.Notifier
	logger   *zap.SugaredLogger
}

func NewAuth(gdb *gorm.DB, n *session.Notifier, l *zap.SugaredLogger) *Auth {
	return &Auth{
		db:       gdb,
		notifier: n,
		logger:   l,
	}
}

func (s *Auth) Register(ctx context.Context, email, pass string) (string, error) {
	hash, err := s.bcryptGen(pass)
	if err != nil {
		return "", errors.Wrap(err, "bcryptGen")
	}
	token := uuid.New().String()
	user := db.User{
		Email:    email,
		Password: hash,
		Token:    token,
	}
	res := s.db.WithContext(ctx).Create(&user)
	if res.Error != nil {
		return "", res.Error
	}

	s.notifier.Publish(session.Event{
		Token: token,
		User:  &session.User{ID: user.ID, Email: user.Email},
	})
	return token, nil
}

func (s *Auth) Login(ctx context.Context, email, pass string) (string, error) {
	user := db.User{}
	res := s.db.WithContext(ctx).Where("email = ?", email).First(&user)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return "", ErrLoginUserNotFound
		}
		return "", res.Error
	}

	if err := s.bcryptCheck(user.Password, pass); err != nil {
		return "", ErrLoginPasswordDoesNotMatch
	}

	previous := user.Token
	token := uuid.New().String()
	res = s.db.WithContext(ctx).Model(&user).Update("token", token)
	if res.Error != nil {
		return "", errors.Wrap(res.Error, "update token")
	}

	if previous != "" {
		s.notifier.Publish(session.Event{Token: previous})
	}
	s.notifier.Publish(session.Event{
		Token: token,
		User:  &session.User{ID: user.ID, Email: user.Email},
	})
	return token, nil
}

func (s *Auth) Logout(ctx context.Context, user *db.User) error {
	token := user.Token
	res := s.db.WithContext(ctx).Model(user).Update("token", "")
	if res.Error != nil {
		return errors.Wrap(res.Error, "clear token")
	}

	if token != "" {
		s.notifier.Publish(session.Event{Token: token})
	}
	return nil
}

func (s *Auth) FindByToken(ctx context.Context, token string) (*db.User, error) {
	user := db.User{}
	res := s.db.WithContext(ctx).Where("token = ?", token).First(&user)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, res.Error
	}
	return &user, nil
}

func (s *Auth) bcryptGen(pass string) (string, error) {
	passwordHashB, err := bcrypt.GenerateFromPassword([]byte(pass), 14)
	if err != nil {
		return "", errors.Wrap(err, "generate password hash")
	}
	return string(passwordHashB), nil
}

func (s *Auth) bcryptCheck(hash, pass string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass))
}
