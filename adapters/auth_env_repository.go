package repository

import (
	"context"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/adamlounds/nightscout-tdd/models"
)

// EnvAuthRepository resolves report readers from configuration: the inbound
// api secret hash, the anonymous default role and a token -> roles map.
type EnvAuthRepository struct {
	APISecretHash string
	DefaultRole   string
	Tokens        map[string][]string
}

func NewEnvAuthRepository(apiSecretHash string, defaultRole string, tokens map[string][]string) *EnvAuthRepository {
	return &EnvAuthRepository{APISecretHash: apiSecretHash, DefaultRole: defaultRole, Tokens: tokens}
}

func (p EnvAuthRepository) GetAPISecretHash(ctx context.Context) string {
	return p.APISecretHash
}

func (p EnvAuthRepository) GetDefaultRole(ctx context.Context) string {
	return p.DefaultRole
}

func (p EnvAuthRepository) FetchAuthSubjectByAuthToken(ctx context.Context, authToken string) *models.AuthSubject {
	log := slogctx.FromCtx(ctx)
	if authToken == "" {
		return models.AnonymousAuthSubject
	}
	name, _, found := strings.Cut(authToken, "-")
	if !found {
		log.Debug("auth token is invalid, should be name-hash")
		return models.AnonymousAuthSubject
	}

	roles, ok := p.Tokens[authToken]
	if !ok {
		log.Debug("auth token not recognized")
		return models.AnonymousAuthSubject
	}
	return &models.AuthSubject{Name: name, RoleNames: roles}
}
