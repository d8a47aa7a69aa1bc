// Package auth 提供基于静态令牌的访问控制。求解服务面向单一评测方，
// 不需要完整的用户体系，只校验调用方是否持有约定的 Bearer 令牌。
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// Mode 表示鉴权模式。
type Mode string

const (
	// ModeDisabled 表示不做任何校验，所有请求直接放行。
	ModeDisabled Mode = "disabled"
	// ModeStatic 表示校验静态 Bearer 令牌。
	ModeStatic Mode = "static"
)

var (
	// ErrMissingToken 表示请求未携带 Authorization 头。
	ErrMissingToken = errors.New("缺少访问令牌")
	// ErrInvalidToken 表示令牌不匹配。
	ErrInvalidToken = errors.New("访问令牌无效")
)

// Service 保存鉴权模式与静态令牌。
type Service struct {
	mode  Mode
	token string
}

// NewService 根据令牌内容决定鉴权模式：令牌为空即关闭鉴权。
func NewService(token string) *Service {
	token = strings.TrimSpace(token)
	if token == "" {
		return &Service{mode: ModeDisabled}
	}
	return &Service{mode: ModeStatic, token: token}
}

// Enabled 报告鉴权是否开启。
func (s *Service) Enabled() bool {
	return s != nil && s.mode == ModeStatic
}

// Authenticate 校验 Authorization 头。接受 "Bearer <token>" 形式，
// 也容忍直接传裸令牌。
func (s *Service) Authenticate(header string) error {
	if !s.Enabled() {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingToken
	}
	token := header
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
