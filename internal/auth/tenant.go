// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package auth resolves the tenant identity of incoming requests.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/connlens/connlens/internal/models"
)

// TenantHeader is the unauthenticated tenant hint header.
const TenantHeader = "X-Tenant-ID"

var (
	// ErrInvalidToken is returned when a presented bearer token fails
	// signature or claim validation.
	ErrInvalidToken = errors.New("invalid bearer token")
	// ErrExpiredToken is returned when a presented bearer token is expired.
	ErrExpiredToken = errors.New("expired bearer token")
)

// TenantResolver maps a request to a tenant. With a signing secret
// configured, a bearer token's "tenant" claim wins; without one, or when
// no token is presented, the X-Tenant-ID header is trusted as-is. Either
// way an unidentified request lands in the default tenant.
type TenantResolver struct {
	secret []byte
}

// NewTenantResolver creates a resolver. An empty secret disables token
// validation entirely.
func NewTenantResolver(secret string) *TenantResolver {
	r := &TenantResolver{}
	if secret != "" {
		r.secret = []byte(secret)
	}
	return r
}

// Resolve returns the request's tenant. A presented-but-invalid token is
// an error: a request that claims an identity must prove it.
func (tr *TenantResolver) Resolve(r *http.Request) (string, error) {
	if tr.secret != nil {
		if tokenStr := extractBearer(r); tokenStr != "" {
			tenant, err := tr.tenantFromToken(tokenStr)
			if err != nil {
				return "", err
			}
			if tenant != "" {
				return tenant, nil
			}
		}
	}

	if tenant := strings.TrimSpace(r.Header.Get(TenantHeader)); tenant != "" {
		return tenant, nil
	}
	return models.DefaultTenant, nil
}

func (tr *TenantResolver) tenantFromToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return tr.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	tenant, _ := claims["tenant"].(string)
	return strings.TrimSpace(tenant), nil
}

// extractBearer pulls the bearer token from the Authorization header.
func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
