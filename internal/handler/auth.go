package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"savingsvault/internal/service"
	"savingsvault/pkg/response"
)

const callerKey = "caller"

// Claims Subject 就是调用方身份（owner / admin）
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken 签发 HS256 令牌
func IssueToken(secret, issuer, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret 未配置")
	}
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, issuer, raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("无效的令牌")
	}
	return claims, nil
}

// AuthMiddleware 校验 Bearer 令牌，把 Subject 作为调用方身份写入请求 ctx。
// 没有令牌的请求照常放行，由 service 层的 Authorizer 决定是否拒绝；
// 令牌无效则直接 401。
func AuthMiddleware(secret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "Authorization 头格式错误")
			return
		}
		claims, err := parseToken(secret, issuer, raw)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "令牌无效: "+err.Error())
			return
		}

		c.Set(callerKey, claims.Subject)
		c.Request = c.Request.WithContext(service.WithCaller(c.Request.Context(), claims.Subject))
		c.Next()
	}
}

// callerOf 限流和幂等用的调用方标识，未认证时退回客户端 IP
func callerOf(c *gin.Context) string {
	if caller := c.GetString(callerKey); caller != "" {
		return caller
	}
	return "ip:" + c.ClientIP()
}
