package model

import "fmt"

// Role 用户角色，只允许下面列出的取值
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ParseRole 将存储或令牌中的字符串解析为 Role
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleMember:
		return RoleMember, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Actor 发起操作的身份，由认证中间件解析
type Actor struct {
	UserID int64
	Role   Role
}

// IsAdmin 判断是否为管理员；未知角色一律按无权限处理
func (a *Actor) IsAdmin() bool {
	if a == nil {
		return false
	}
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleMember:
		return false
	default:
		return false
	}
}

// CanAccess 本人或管理员可访问
func (a *Actor) CanAccess(ownerID int64) bool {
	if a == nil {
		return false
	}
	return a.IsAdmin() || a.UserID == ownerID
}
