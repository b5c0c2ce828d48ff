package session

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Doctor ")
	require.NoError(t, err)
	assert.Equal(t, RoleDoctor, r)

	_, err = ParseRole("nurse")
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	id := uuid.New()
	ctx := NewContext(context.Background(), Session{UserID: id, Role: RolePatient})
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, id, got.UserID)
	assert.Equal(t, "patient:"+id.String(), got.Actor())
}

func TestActsFor(t *testing.T) {
	doctor := uuid.New()
	other := uuid.New()

	s := Session{UserID: doctor, Role: RoleDoctor}
	assert.True(t, s.ActsFor(RoleDoctor, doctor))
	assert.False(t, s.ActsFor(RoleDoctor, other))
	assert.False(t, s.ActsFor(RolePatient, doctor))

	admin := Session{UserID: uuid.New(), Role: RoleAdmin}
	assert.True(t, admin.ActsFor(RolePatient, other))
}
