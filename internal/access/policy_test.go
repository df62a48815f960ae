package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicy(t *testing.T) {
	const ownerID, otherID, adminID = uint64(10), uint64(20), uint64(30)

	owner := Authenticated(ownerID, "piet", false)
	other := Authenticated(otherID, "klaas", false)
	admin := Authenticated(adminID, "admin", true)
	anon := Anonymous()

	publicPost := Resource{OwnerID: ownerID, Public: true}
	privatePost := Resource{OwnerID: ownerID, Public: false}

	testCases := []struct {
		name      string
		subject   Subject
		resource  Resource
		wantRead  bool
		wantWrite bool
	}{
		{name: "anonymous public", subject: anon, resource: publicPost, wantRead: true, wantWrite: false},
		{name: "anonymous private", subject: anon, resource: privatePost, wantRead: false, wantWrite: false},
		{name: "owner public", subject: owner, resource: publicPost, wantRead: true, wantWrite: true},
		{name: "owner private", subject: owner, resource: privatePost, wantRead: true, wantWrite: true},
		{name: "other public", subject: other, resource: publicPost, wantRead: true, wantWrite: false},
		{name: "other private", subject: other, resource: privatePost, wantRead: false, wantWrite: false},
		{name: "admin public", subject: admin, resource: publicPost, wantRead: true, wantWrite: true},
		{name: "admin private", subject: admin, resource: privatePost, wantRead: true, wantWrite: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantRead, CanRead(tc.subject, tc.resource))
			assert.Equal(t, tc.wantWrite, CanWrite(tc.subject, tc.resource))
		})
	}
}

func TestPolicy_AnonymousNeverOwnsZeroOwner(t *testing.T) {
	// a resource with a zero owner id must not be writable by the zero-valued subject
	r := Resource{OwnerID: 0, Public: false}
	assert.False(t, CanWrite(Subject{}, r))
	assert.False(t, CanRead(Subject{}, r))
}

func TestSubject(t *testing.T) {
	anon := Anonymous()
	assert.True(t, anon.IsAnonymous())
	assert.False(t, anon.IsAuthenticated())
	assert.False(t, anon.IsAdmin())
	_, ok := anon.UserID()
	assert.False(t, ok)
	assert.Equal(t, "anonymous", anon.String())

	user := Authenticated(5, "piet", false)
	assert.True(t, user.IsAuthenticated())
	assert.False(t, user.IsAdmin())
	id, ok := user.UserID()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), id)
	assert.Equal(t, "piet", user.Username())
	assert.Equal(t, "user:piet", user.String())

	admin := Authenticated(1, "admin", true)
	assert.True(t, admin.IsAdmin())
	assert.Equal(t, "admin:admin", admin.String())
}

func TestSubjectContext(t *testing.T) {
	ctx := context.Background()
	assert.True(t, SubjectFromContext(ctx).IsAnonymous())

	user := Authenticated(5, "piet", false)
	ctx = WithSubject(ctx, user)
	assert.Equal(t, user, SubjectFromContext(ctx))
}
