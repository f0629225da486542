package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
	"github.com/victornm/gema/internal/identity"
)

func TestResolver_IssueAndResolve(t *testing.T) {
	r := makeResolver(t, time.Now)

	token, err := r.Issue(domain.Identity{ID: "user-1", Name: "Alice", Role: domain.RoleStudent, StudentID: "student-1"})
	require.NoError(t, err)

	got, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, &domain.Identity{ID: "user-1", Name: "Alice", Role: domain.RoleStudent, StudentID: "student-1"}, got)
}

func TestResolver_FromHeader(t *testing.T) {
	now := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	r := makeResolver(t, func() time.Time { return now })

	teacher, err := r.Issue(domain.Identity{ID: "teacher-1", Role: domain.RoleTeacher})
	require.NoError(t, err)

	other, err := identity.NewResolver(identity.Config{Secret: "another-secret", Now: func() time.Time { return now }})
	require.NoError(t, err)
	forged, err := other.Issue(domain.Identity{ID: "teacher-1", Role: domain.RoleAdmin})
	require.NoError(t, err)

	expired, err := identity.NewResolver(identity.Config{Secret: "test-secret", TTL: time.Minute, Now: func() time.Time { return now.Add(-time.Hour) }})
	require.NoError(t, err)
	stale, err := expired.Issue(domain.Identity{ID: "teacher-1", Role: domain.RoleTeacher})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "teacher-1", "role": "ADMIN", "iss": "gema"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]struct {
		header   string
		wantID   string
		wantCode errors.Code
	}{
		"no header is anonymous":      {header: ""},
		"valid bearer token":          {header: "Bearer " + teacher, wantID: "teacher-1"},
		"scheme is case-insensitive":  {header: "bearer " + teacher, wantID: "teacher-1"},
		"basic auth":                  {header: "Basic dXNlcjpwYXNz", wantCode: errors.CodeUnauthenticated},
		"bearer without token":        {header: "Bearer ", wantCode: errors.CodeUnauthenticated},
		"garbage token":               {header: "Bearer not-a-jwt", wantCode: errors.CodeUnauthenticated},
		"token signed with other key": {header: "Bearer " + forged, wantCode: errors.CodeUnauthenticated},
		"expired token":               {header: "Bearer " + stale, wantCode: errors.CodeUnauthenticated},
		"unsigned token":              {header: "Bearer " + none, wantCode: errors.CodeUnauthenticated},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := r.FromHeader(tt.header)
			if tt.wantCode != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, errors.Convert(err).Code)
				return
			}

			require.NoError(t, err)
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestResolver_IssueRejectsUnknownRole(t *testing.T) {
	r := makeResolver(t, time.Now)

	_, err := r.Issue(domain.Identity{ID: "x", Role: "PRINCIPAL"})
	assert.Error(t, err)

	_, err = r.Issue(domain.Identity{Role: domain.RoleAdmin})
	assert.Error(t, err)
}

func TestNewResolver_RequiresSecret(t *testing.T) {
	_, err := identity.NewResolver(identity.Config{})
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	assert.Nil(t, identity.FromContext(context.Background()))

	id := &domain.Identity{ID: "teacher-1", Role: domain.RoleTeacher}
	assert.Same(t, id, identity.FromContext(identity.WithIdentity(context.Background(), id)))
}

func makeResolver(t *testing.T, now func() time.Time) *identity.Resolver {
	t.Helper()

	r, err := identity.NewResolver(identity.Config{Secret: "test-secret", Now: now})
	require.NoError(t, err)
	return r
}
