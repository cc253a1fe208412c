package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type adminLookupStub map[string]*models.Admin

func (s adminLookupStub) Get(ctx context.Context, id string) (*models.Admin, error) {
	admin, ok := s[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "admin not found")
	}
	return admin, nil
}

func newTestAuthService() *AuthService {
	admins := adminLookupStub{
		"7": {ID: "7", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Active: true},
		"8": {ID: "8", FirstName: "Old", LastName: "Timer", Email: "old@example.com", Active: false},
	}
	return NewAuthService(admins, nil, AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Minute,
		Issuer:            "academy-portal",
		Audience:          []string{"academy-portal-admin"},
	})
}

func TestIssueAndValidateToken(t *testing.T) {
	svc := newTestAuthService()

	issued, err := svc.IssueToken(context.Background(), "7", models.RoleAdmin)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.AccessToken)

	claims, err := svc.ValidateToken(issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Equal(t, "Ada Lovelace", claims.FullName)
}

func TestIssueTokenRejectsInactiveOrUnknownAdmin(t *testing.T) {
	svc := newTestAuthService()

	_, err := svc.IssueToken(context.Background(), "8", models.RoleAdmin)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.IssueToken(context.Background(), "99", models.RoleAdmin)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.IssueToken(context.Background(), "7", "GUEST")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	svc := newTestAuthService()
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{UserID: "7", Role: models.RoleSuperAdmin})
	signed, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := newTestAuthService()
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	issued, err := svc.IssueToken(context.Background(), "7", models.RoleAdmin)
	require.NoError(t, err)

	_, err = svc.ValidateToken(issued.AccessToken)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
