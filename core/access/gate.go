package access

import (
	"errors"
	"fmt"
)

// Action 歌单上的受控操作
type Action string

const (
	ActionView             Action = "view"
	ActionAppendTrack      Action = "append_track"
	ActionRemoveTrack      Action = "remove_track"
	ActionRename           Action = "rename"
	ActionDeletePlaylist   Action = "delete_playlist"
	ActionManageMembership Action = "manage_membership"
	ActionLeave            Action = "leave"
)

// Role 主体相对歌单的角色
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
	RoleOther  Role = "other"
)

// ErrDenied 所有拒绝都可以用 errors.Is(err, ErrDenied) 判断
var ErrDenied = errors.New("permission denied")

// Subject 鉴权输入，只包含判定所需的最少信息
type Subject struct {
	OwnerID   string
	Principal string
	IsMember  bool
}

// Role 计算主体角色
// 所有者身份只来自 OwnerID，与成员记录无关
func (s Subject) Role() Role {
	switch {
	case s.Principal != "" && s.Principal == s.OwnerID:
		return RoleOwner
	case s.Principal != "" && s.IsMember:
		return RoleMember
	default:
		return RoleOther
	}
}

// Decision 鉴权结果
type Decision struct {
	Allowed bool
	Reason  string
}

// Err 拒绝时返回 *DeniedError，允许时返回 nil
func (d Decision) Err(action Action) error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Action: action, Reason: d.Reason}
}

// DeniedError 带原因的拒绝错误
type DeniedError struct {
	Action Action
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s denied: %s", e.Action, e.Reason)
}

// Is 使 errors.Is(err, ErrDenied) 成立
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// policy 权限表：动作 -> 允许的角色
// 成员目前不能删除任何歌曲（包括自己添加的）
var policy = map[Action]map[Role]bool{
	ActionView:             {RoleOwner: true, RoleMember: true},
	ActionAppendTrack:      {RoleOwner: true, RoleMember: true},
	ActionRemoveTrack:      {RoleOwner: true},
	ActionRename:           {RoleOwner: true},
	ActionDeletePlaylist:   {RoleOwner: true},
	ActionManageMembership: {RoleOwner: true},
	ActionLeave:            {RoleMember: true},
}

// Authorize 纯函数：只依赖所有者、成员关系与动作，无副作用
func Authorize(subject Subject, action Action) Decision {
	allowed, known := policy[action]
	if !known {
		return Decision{Reason: fmt.Sprintf("unknown action %q", action)}
	}

	role := subject.Role()
	if allowed[role] {
		return Decision{Allowed: true}
	}

	switch {
	case role == RoleOwner && action == ActionLeave:
		return Decision{Reason: "owner cannot leave own playlist"}
	case role == RoleMember:
		return Decision{Reason: "only the owner may " + describe(action)}
	default:
		return Decision{Reason: "not a member of this playlist"}
	}
}

func describe(action Action) string {
	switch action {
	case ActionRemoveTrack:
		return "remove tracks"
	case ActionRename:
		return "rename the playlist"
	case ActionDeletePlaylist:
		return "delete the playlist"
	case ActionManageMembership:
		return "manage members"
	default:
		return string(action)
	}
}
