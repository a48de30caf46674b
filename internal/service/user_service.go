package service

import (
	"Parley/internal/api/dto"
	"Parley/internal/model"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/redis"
	"Parley/internal/pkg/security"
	"context"
	"errors"
	log "log/slog"
	"strconv"
	"time"

	"gorm.io/gorm"

	"Parley/internal/repository"
)

// PresenceChecker 在线状态查询，由连接层实现
type PresenceChecker interface {
	IsOnline(userID uint64) bool
}

// UserService 用户服务接口定义
type UserService interface {
	Register(ctx context.Context, req *dto.RegisterDTO) error
	Login(ctx context.Context, req *dto.CredentialDTO) (*dto.LoginResDTO, error)
	Logout(ctx context.Context, token string) error
	GetUserInfo(ctx context.Context, userID uint64) (*dto.UserSimpleDTO, error)
	GetUsersInfo(ctx context.Context, userIDs []uint64) ([]*dto.UserSimpleDTO, error)
}

type userServiceImpl struct {
	userRepo repository.UserRepo
	presence PresenceChecker
}

func NewUserService(userRepo repository.UserRepo, presence PresenceChecker) UserService {
	return &userServiceImpl{userRepo: userRepo, presence: presence}
}

// Register 注册新用户，用户名唯一
func (s *userServiceImpl) Register(ctx context.Context, req *dto.RegisterDTO) error {
	_, err := s.userRepo.GetUserByUsername(ctx, req.Username)
	if err == nil {
		return ErrUserExist
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hashed, err := security.HashPassword(req.Password)
	if err != nil {
		return UnExpectedError
	}

	nickname := req.Nickname
	if nickname == "" {
		nickname = req.Username
	}
	user := &model.User{
		Username: &req.Username,
		Password: &hashed,
		Nickname: nickname,
	}
	return s.userRepo.CreateUser(ctx, user)
}

// Login 校验凭证并签发 Token
func (s *userServiceImpl) Login(ctx context.Context, req *dto.CredentialDTO) (*dto.LoginResDTO, error) {
	user, err := s.userRepo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.IsBan {
		return nil, ErrUserBan
	}
	if user.Password == nil || security.CheckPasswordHash(req.Password, *user.Password) != nil {
		return nil, ErrPasswordIncorrect
	}

	token, err := security.GenerateToken(user.ID, []string{"user"})
	if err != nil {
		log.ErrorContext(ctx, "Token 签发失败", "userID", user.ID, "err", err)
		return nil, UnExpectedError
	}

	return &dto.LoginResDTO{
		Token: token,
		User:  s.toSimpleDTO(ctx, user),
	}, nil
}

// Logout 将 Token 签名加入黑名单，余下有效期内拒绝放行
func (s *userServiceImpl) Logout(ctx context.Context, token string) error {
	signature, err := security.ExtractSignature(token)
	if err != nil {
		return UnauthorizedError
	}
	return redis.SetWithExpiration(ctx, signature, "revoked", security.JWTExpirationTime)
}

// GetUserInfo 获取用户摘要，叠加实时在线状态
func (s *userServiceImpl) GetUserInfo(ctx context.Context, userID uint64) (*dto.UserSimpleDTO, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.toSimpleDTO(ctx, user), nil
}

// GetUsersInfo 批量获取用户摘要
func (s *userServiceImpl) GetUsersInfo(ctx context.Context, userIDs []uint64) ([]*dto.UserSimpleDTO, error) {
	users, err := s.userRepo.GetUsersByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	res := make([]*dto.UserSimpleDTO, 0, len(users))
	for _, u := range users {
		res = append(res, s.toSimpleDTO(ctx, u))
	}
	return res, nil
}

func (s *userServiceImpl) toSimpleDTO(ctx context.Context, user *model.User) *dto.UserSimpleDTO {
	d := &dto.UserSimpleDTO{
		ID:        user.ID,
		Nickname:  user.Nickname,
		AvatarURL: user.AvatarURL,
	}
	if user.Username != nil {
		d.Username = *user.Username
	}
	if s.presence != nil && s.presence.IsOnline(user.ID) {
		d.Online = true
		return d
	}

	// 离线用户优先取缓存中的最后在线时间，落库值兜底
	if ts, err := redis.GetValue(ctx, consts.UserLastSeenKey+strconv.FormatUint(user.ID, 10)); err == nil && ts != "" {
		if sec, err := strconv.ParseInt(ts, 10, 64); err == nil {
			t := time.Unix(sec, 0)
			d.LastSeenAt = &t
			return d
		}
	}
	d.LastSeenAt = user.LastSeenAt
	return d
}
