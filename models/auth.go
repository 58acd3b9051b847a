package models

import (
	"context"
	"log/slog"
	"strings"

	slogctx "github.com/veqryn/slog-context"
)

// PermissionReadTDD guards every report endpoint.
const PermissionReadTDD = "api:tdd:read"

type AuthService struct {
	AuthRepository
}

type AuthSubject struct {
	Name      string
	RoleNames []string
}

type Role struct {
	Name        string
	Permissions []string
}

type AuthRepository interface {
	GetAPISecretHash(ctx context.Context) string
	GetDefaultRole(ctx context.Context) string
	FetchAuthSubjectByAuthToken(ctx context.Context, authToken string) *AuthSubject
}

type Authn struct {
	AuthSubject   *AuthSubject
	ApiSecretHash string
	AuthToken     string
}

func (a Authn) LogValue() slog.Value {
	name := ""
	if a.AuthSubject != nil {
		name = a.AuthSubject.Name
	}
	return slog.GroupValue(
		slog.Bool("hasSecret", a.ApiSecretHash != ""),
		slog.Bool("hasToken", a.AuthToken != ""),
		slog.String("authSubject", name),
	)
}

var AnonymousAuthSubject = &AuthSubject{Name: "anonymous", RoleNames: []string{}}

var adminAuthSubject = &AuthSubject{Name: "admin", RoleNames: []string{"admin"}}

func (service *AuthService) AuthFromHTTP(ctx context.Context, apiSecretHash string, authToken string) *Authn {
	return &Authn{
		ApiSecretHash: apiSecretHash,
		AuthToken:     authToken,
		AuthSubject:   service.FetchAuthSubject(ctx, apiSecretHash, authToken),
	}
}

func (service *AuthService) FetchAuthSubject(ctx context.Context, apiSecretHash string, authToken string) *AuthSubject {
	log := slogctx.FromCtx(ctx)
	if service.IsAPISecretHashValid(ctx, apiSecretHash) {
		log.Debug("api secret is valid, it's the admin user")
		return adminAuthSubject
	}

	as := service.FetchAuthSubjectByAuthToken(ctx, authToken)
	if as.IsAnonymous() && apiSecretHash != "" {
		// api-secret header can contain a token
		as = service.FetchAuthSubjectByAuthToken(ctx, apiSecretHash)
		if !as.IsAnonymous() {
			log.Debug("api secret was an auth token", slog.String("name", as.Name))
		}
	}
	return as
}

var defaultRoles = map[string]*Role{
	"admin":       {Name: "admin", Permissions: []string{"*"}},
	"denied":      {Name: "denied", Permissions: []string{}},
	"readable":    {Name: "readable", Permissions: []string{"*:*:read"}},
	"status-only": {Name: "status-only", Permissions: []string{"api:status:read"}},
	"tdd-reader":  {Name: "tdd-reader", Permissions: []string{"api:tdd:read"}},
}

// IsPermitted checks the subject's roles, plus the default role for anonymous
// callers, against requiredPermission.
func (service *AuthService) IsPermitted(ctx context.Context, a *Authn, requiredPermission string) bool {
	log := slogctx.FromCtx(ctx)
	subject := AnonymousAuthSubject
	if a != nil && a.AuthSubject != nil {
		subject = a.AuthSubject
	}
	roleNames := subject.RoleNames
	if subject.IsAnonymous() {
		roleNames = append(roleNames, service.GetDefaultRole(ctx))
	}

	for _, roleName := range roleNames {
		role, ok := defaultRoles[roleName]
		if !ok {
			log.Debug("role not found", slog.String("roleName", roleName))
			continue
		}
		for _, permission := range role.Permissions {
			if PermissionImplies(permission, requiredPermission) {
				log.Debug("role is allowed",
					slog.String("roleName", roleName),
					slog.String("perm", permission),
					slog.String("requiredPerm", requiredPermission),
				)
				return true
			}
		}
	}
	return false
}

// PermissionImplies does shiro-style matching, see
// https://shiro.apache.org/permissions.html. Parts are colon separated, each
// part may list alternatives with commas, "*" matches any part, and a granted
// permission shorter than the required one implies everything below it.
func PermissionImplies(granted, required string) bool {
	grantedParts := strings.Split(granted, ":")
	requiredParts := strings.Split(required, ":")
	for i, gp := range grantedParts {
		if i >= len(requiredParts) {
			// extra granted parts must all be wildcards
			if gp != "*" {
				return false
			}
			continue
		}
		if gp == "*" {
			continue
		}
		if !partContains(gp, requiredParts[i]) {
			return false
		}
	}
	return true
}

func partContains(part, want string) bool {
	for _, alt := range strings.Split(part, ",") {
		if alt == want {
			return true
		}
	}
	return false
}

func (service *AuthService) IsAPISecretHashValid(ctx context.Context, apiSecretHash string) bool {
	expected := service.GetAPISecretHash(ctx)
	return expected != "" && strings.EqualFold(apiSecretHash, expected)
}

func (as *AuthSubject) IsAnonymous() bool {
	return as == nil || as.Name == AnonymousAuthSubject.Name
}
