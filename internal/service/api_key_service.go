package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/internal/model"
	"github.com/qs3c/entitlement_server/internal/model/dto"
	"github.com/qs3c/entitlement_server/internal/pkg/apperr"
	"github.com/qs3c/entitlement_server/internal/repository"
)

// API Key 格式：esk_<prefix>.<secret>，库里只存 prefix 和整串 key 的 bcrypt 哈希
const apiKeyScheme = "esk_"

type APIKeyService struct {
	repo   *repository.APIKeyRepository
	logger *zap.Logger
	cost   int
	now    func() time.Time
}

func NewAPIKeyService(repo *repository.APIKeyRepository, logger *zap.Logger) *APIKeyService {
	return &APIKeyService{
		repo:   repo,
		logger: logger,
		cost:   bcrypt.DefaultCost,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create 生成新 key，明文只在返回值中出现一次
func (s *APIKeyService) Create(ctx context.Context, actor *model.Actor, req *dto.CreateAPIKeyRequest) (*dto.CreateAPIKeyResponse, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if n := len([]rune(name)); n < 3 || n > 100 {
		return nil, ErrInvalidAPIKeyName
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		return nil, apperr.InvalidArgument("role must be member or admin")
	}

	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	secret := strings.ReplaceAll(uuid.NewString(), "-", "")
	plain := apiKeyScheme + prefix + "." + secret

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.cost)
	if err != nil {
		return nil, apperr.Internal("failed to hash api key", err)
	}

	key := &model.APIKey{
		Name:    name,
		Prefix:  prefix,
		Hash:    string(hash),
		OwnerID: actor.UserID,
		Role:    role,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, apperr.Internal("failed to save api key", err)
	}

	s.logger.Info("api key created",
		zap.Int64("key_id", key.ID),
		zap.String("prefix", prefix),
		zap.String("role", string(role)),
		zap.Int64("created_by", actor.UserID),
	)

	return &dto.CreateAPIKeyResponse{
		ID:     key.ID,
		Name:   key.Name,
		Prefix: key.Prefix,
		Key:    plain,
		Role:   string(key.Role),
	}, nil
}

// Authenticate 校验明文 key，返回其代表的调用方
func (s *APIKeyService) Authenticate(ctx context.Context, plain string) (*model.Actor, error) {
	rest, ok := strings.CutPrefix(plain, apiKeyScheme)
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	prefix, _, ok := strings.Cut(rest, ".")
	if !ok || prefix == "" {
		return nil, ErrInvalidAPIKey
	}

	key, err := s.repo.GetByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, apperr.Internal("failed to load api key", err)
	}
	if !key.Active() {
		return nil, ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(plain)); err != nil {
		return nil, ErrInvalidAPIKey
	}
	if !key.Role.Valid() {
		return nil, ErrUnknownRole
	}

	if err := s.repo.TouchLastUsed(ctx, key.ID, s.now()); err != nil {
		s.logger.Warn("failed to record api key usage", zap.Int64("key_id", key.ID), zap.Error(err))
	}

	return &model.Actor{UserID: key.OwnerID, Role: key.Role}, nil
}

func (s *APIKeyService) List(ctx context.Context, actor *model.Actor) ([]model.APIKey, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	keys, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperr.Internal("failed to list api keys", err)
	}
	return keys, nil
}

func (s *APIKeyService) Revoke(ctx context.Context, actor *model.Actor, id int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	ok, err := s.repo.Revoke(ctx, id, s.now())
	if err != nil {
		return apperr.Internal("failed to revoke api key", err)
	}
	if !ok {
		return ErrAPIKeyNotFound
	}
	s.logger.Info("api key revoked", zap.Int64("key_id", id), zap.Int64("revoked_by", actor.UserID))
	return nil
}
