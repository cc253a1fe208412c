package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("bundle-1", "bundles/2024-06-10/bundle-1.zip")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	bundleID, path, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "bundle-1", bundleID)
	require.Equal(t, "bundles/2024-06-10/bundle-1.zip", path)
	require.True(t, expiresAt.Equal(parsedExpiry))
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	base := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return base }
	token, _, err := signer.Generate("bundle-1", "bundle.zip")
	require.NoError(t, err)

	signer.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, _, _, err = signer.Parse(token, false)
	require.ErrorIs(t, err, ErrTokenExpired)

	bundleID, path, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "bundle-1", bundleID)
	require.Equal(t, "bundle.zip", path)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("bundle-1", "bundle.zip")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "bundle-2"
	_, _, _, err = signer.Parse(strings.Join(parts, "."), false)
	require.ErrorIs(t, err, ErrTokenInvalid)

	other := NewSignedURLSigner("other", time.Hour)
	_, _, _, err = other.Parse(token, false)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, _, err = NewSignedURLSigner("", time.Hour).Generate("bundle-1", "bundle.zip")
	require.Error(t, err)
}
