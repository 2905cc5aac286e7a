package access

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	owner  = Subject{OwnerID: "u1", Principal: "u1"}
	member = Subject{OwnerID: "u1", Principal: "u2", IsMember: true}
	other  = Subject{OwnerID: "u1", Principal: "u3"}
)

func TestAuthorize_PolicyTable(t *testing.T) {
	cases := []struct {
		action Action
		owner  bool
		member bool
		other  bool
	}{
		{ActionView, true, true, false},
		{ActionAppendTrack, true, true, false},
		{ActionRemoveTrack, true, false, false},
		{ActionRename, true, false, false},
		{ActionDeletePlaylist, true, false, false},
		{ActionManageMembership, true, false, false},
		{ActionLeave, false, true, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.action), func(t *testing.T) {
			assert.Equal(t, tc.owner, Authorize(owner, tc.action).Allowed, "owner")
			assert.Equal(t, tc.member, Authorize(member, tc.action).Allowed, "member")
			assert.Equal(t, tc.other, Authorize(other, tc.action).Allowed, "other")
		})
	}
}

func TestAuthorize_OwnerFlagIgnoresMembershipRecord(t *testing.T) {
	// 即使存储层错误地给所有者留了成员记录，所有者仍按所有者处理
	s := Subject{OwnerID: "u1", Principal: "u1", IsMember: true}
	assert.Equal(t, RoleOwner, s.Role())
	assert.False(t, Authorize(s, ActionLeave).Allowed)
}

func TestAuthorize_EmptyPrincipalIsOther(t *testing.T) {
	s := Subject{OwnerID: "", Principal: ""}
	assert.Equal(t, RoleOther, s.Role())
	assert.False(t, Authorize(s, ActionView).Allowed)
}

func TestAuthorize_UnknownAction(t *testing.T) {
	d := Authorize(owner, Action("transfer"))
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "unknown action")
}

func TestDecision_Err(t *testing.T) {
	assert.NoError(t, Authorize(owner, ActionRename).Err(ActionRename))

	err := Authorize(member, ActionRename).Err(ActionRename)
	assert.True(t, errors.Is(err, ErrDenied))

	var denied *DeniedError
	if assert.ErrorAs(t, err, &denied) {
		assert.Equal(t, ActionRename, denied.Action)
		assert.Equal(t, "only the owner may rename the playlist", denied.Reason)
	}

	err = Authorize(owner, ActionLeave).Err(ActionLeave)
	assert.ErrorIs(t, err, ErrDenied)
	assert.Contains(t, err.Error(), "owner cannot leave")
}
