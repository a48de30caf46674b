package service

import (
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	NotFound            = 404
	InternalServerError = 500
)

var (
	ErrParamInvalid         = errors.New("参数错误")
	ErrUserNotFound         = errors.New("用户不存在")
	ErrUserExist            = errors.New("用户已存在")
	ErrUserBan              = errors.New("用户已被封禁")
	ErrPasswordIncorrect    = errors.New("密码错误")
	ErrTargetUserInvalid    = errors.New("目标用户无效")
	ErrConversationNotFound = errors.New("会话不存在")
	ErrGroupMemberTooFew    = errors.New("群聊成员不足")
	ErrMessageEmpty         = errors.New("消息内容为空")
	ErrMediaDisabled        = errors.New("附件服务未启用")
	UnauthorizedError       = errors.New("权限不足")
	UnExpectedError         = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:         BadRequest,
	ErrUserNotFound:         NotFound,
	ErrUserExist:            BadRequest,
	ErrUserBan:              Unauthorized,
	ErrPasswordIncorrect:    Unauthorized,
	ErrTargetUserInvalid:    BadRequest,
	ErrConversationNotFound: NotFound,
	ErrGroupMemberTooFew:    BadRequest,
	ErrMessageEmpty:         BadRequest,
	ErrMediaDisabled:        BadRequest,
	UnauthorizedError:       Unauthorized,
	UnExpectedError:         InternalServerError,
}
