package service

import (
	"context"

	"savingsvault/internal/model"
)

type callerKey struct{}

// WithCaller 把已认证的调用方身份放进 ctx，由 HTTP 层的 JWT 中间件调用
func WithCaller(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, callerKey{}, identity)
}

func CallerFrom(ctx context.Context) (string, bool) {
	identity, ok := ctx.Value(callerKey{}).(string)
	return identity, ok && identity != ""
}

// Authorizer 确认当前调用方可以代表 identity 操作，否则返回 model.ErrUnauthorized
type Authorizer interface {
	RequireAuth(ctx context.Context, identity string) error
}

// CallerAuthorizer 要求 ctx 中的调用方就是 identity 本人
type CallerAuthorizer struct{}

func (CallerAuthorizer) RequireAuth(ctx context.Context, identity string) error {
	caller, ok := CallerFrom(ctx)
	if !ok || caller != identity {
		return model.ErrUnauthorized
	}
	return nil
}

// AllowAll 不做校验，给受信任的宿主和测试用
type AllowAll struct{}

func (AllowAll) RequireAuth(context.Context, string) error {
	return nil
}
