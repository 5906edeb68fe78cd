package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/auth"
)

func TestWrittenKeysSignTokens(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	privPath, pubPath, err := writeKeyPair(dir)
	require.NoError(t, err)

	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	token, _, err := mgr.IssueToken("ci")
	require.NoError(t, err)
	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
}

func TestRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	_, _, err := writeKeyPair(dir)
	require.NoError(t, err)
	_, _, err = writeKeyPair(dir)
	assert.ErrorContains(t, err, "already exists")
}
