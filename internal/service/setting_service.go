package service

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/internal/model"
	"github.com/qs3c/entitlement_server/internal/pkg/apperr"
	"github.com/qs3c/entitlement_server/internal/repository"
)

// DefaultSettings 已知设置项及其默认值；均为布尔值
var DefaultSettings = map[string]string{
	model.SettingRefundsEnabled:       "true",
	model.SettingNotificationsEnabled: "true",
}

// SettingService 运行期设置，持久化在 settings 表
type SettingService struct {
	repo     *repository.SettingRepository
	defaults map[string]string
}

// NewSettingService overrides 来自配置文件，只覆盖已知项
func NewSettingService(repo *repository.SettingRepository, overrides map[string]string) *SettingService {
	defaults := make(map[string]string, len(DefaultSettings))
	for k, v := range DefaultSettings {
		defaults[k] = v
	}
	for k, v := range overrides {
		if _, ok := defaults[k]; ok {
			defaults[k] = v
		}
	}
	return &SettingService{repo: repo, defaults: defaults}
}

// Init 写入缺失的默认值，已存在的值保持不变
func (s *SettingService) Init(ctx context.Context) error {
	for _, key := range s.keys() {
		if err := s.repo.CreateIfMissing(ctx, key, s.defaults[key]); err != nil {
			return apperr.Internal("failed to seed settings", err)
		}
	}
	return nil
}

// Teardown 删除所有持久化设置
func (s *SettingService) Teardown(ctx context.Context) error {
	if err := s.repo.DeleteAll(ctx); err != nil {
		return apperr.Internal("failed to clear settings", err)
	}
	return nil
}

// Reset 清空后重新写入默认值
func (s *SettingService) Reset(ctx context.Context) error {
	if err := s.Teardown(ctx); err != nil {
		return err
	}
	return s.Init(ctx)
}

func (s *SettingService) Get(ctx context.Context, key string) (*model.Setting, error) {
	def, known := s.defaults[key]
	if !known {
		return nil, ErrSettingNotFound
	}

	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.Setting{Key: key, Value: def}, nil
		}
		return nil, apperr.Internal("failed to load setting", err)
	}
	return setting, nil
}

func (s *SettingService) GetBool(ctx context.Context, key string) (bool, error) {
	setting, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(setting.Value)
	if err != nil {
		return false, apperr.Internal("setting "+key+" is not a boolean", err)
	}
	return v, nil
}

func (s *SettingService) Set(ctx context.Context, key, value string) (*model.Setting, error) {
	if _, known := s.defaults[key]; !known {
		return nil, ErrSettingNotFound
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return nil, ErrInvalidSettingValue
	}
	normalized := strconv.FormatBool(v)

	if err := s.repo.Upsert(ctx, key, normalized); err != nil {
		return nil, apperr.Internal("failed to save setting", err)
	}
	return s.Get(ctx, key)
}

// List 返回全部已知设置，未持久化的项以默认值补齐
func (s *SettingService) List(ctx context.Context) ([]model.Setting, error) {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperr.Internal("failed to list settings", err)
	}
	byKey := make(map[string]model.Setting, len(stored))
	for _, st := range stored {
		byKey[st.Key] = st
	}

	out := make([]model.Setting, 0, len(s.defaults))
	for _, key := range s.keys() {
		if st, ok := byKey[key]; ok {
			out = append(out, st)
			continue
		}
		out = append(out, model.Setting{Key: key, Value: s.defaults[key]})
	}
	return out, nil
}

func (s *SettingService) keys() []string {
	keys := make([]string, 0, len(s.defaults))
	for k := range s.defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
