package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adamlounds/nightscout-tdd/models"
)

func TestEnvAuthRepository(t *testing.T) {
	repo := NewEnvAuthRepository("hash", "denied", map[string][]string{
		"clinic-abc123": {"tdd-reader"},
		"nocolon":       {"admin"},
	})
	ctx := contextWithSilentLogger()

	assert.Equal(t, "hash", repo.GetAPISecretHash(ctx))
	assert.Equal(t, "denied", repo.GetDefaultRole(ctx))

	tests := []struct {
		name  string
		token string
		want  *models.AuthSubject
	}{
		{name: "empty token", token: "", want: models.AnonymousAuthSubject},
		{name: "malformed token", token: "nocolon", want: models.AnonymousAuthSubject},
		{name: "unknown token", token: "clinic-zzz", want: models.AnonymousAuthSubject},
		{name: "known token", token: "clinic-abc123", want: &models.AuthSubject{Name: "clinic", RoleNames: []string{"tdd-reader"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repo.FetchAuthSubjectByAuthToken(ctx, tt.token))
		})
	}
}
