package borrowing

import (
	"errors"
	"fmt"
	"testing"

	"lendinglibrary/internal/inventory"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("handler: %w", newError("borrow", KindExhausted, inventory.ErrExhausted))

	assert.ErrorIs(t, err, ErrExhausted)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, inventory.ErrExhausted)
	assert.Equal(t, KindExhausted, KindOf(err))
	assert.Equal(t, "borrow: no copies available: no copies available", newError("borrow", KindExhausted, errors.New("no copies available")).Error())
}

func TestKindOf_Foreign(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleStaff, ParseRole("staff"))
	assert.Equal(t, RoleSuperstaff, ParseRole("superstaff"))
	assert.Equal(t, RoleMember, ParseRole("member"))
	assert.Equal(t, RoleMember, ParseRole("ADMIN"))
	assert.False(t, Identity{ID: "a", Role: RoleMember}.Elevated())
	assert.True(t, Identity{ID: "b", Role: RoleSuperstaff}.Elevated())
}

func TestAuthorize(t *testing.T) {
	assert.NoError(t, authorize("return", Identity{ID: "alice", Role: RoleMember}, "alice"))
	assert.NoError(t, authorize("return", Identity{ID: "staff", Role: RoleStaff}, "alice"))
	assert.ErrorIs(t, authorize("return", Identity{ID: "bob", Role: RoleMember}, "alice"), ErrForbidden)
}
