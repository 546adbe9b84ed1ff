package auth

import (
	"errors"
	"strings"
)

// Role is the closed set of account roles. The upstream data carries role
// names with inconsistent casing ("faculty", "Admin", "ADMIN"); casing is
// not semantic, so every comparison goes through ParseRole.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleTeacher     Role = "teacher"
	RoleFaculty     Role = "faculty"
	RoleStudent     Role = "student"
	RoleHR          Role = "hr"
	RoleStudyOffice Role = "study-office"
)

var ErrUnknownRole = errors.New("unknown role")

func ParseRole(name string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "admin":
		return RoleAdmin, nil
	case "teacher":
		return RoleTeacher, nil
	case "faculty":
		return RoleFaculty, nil
	case "student":
		return RoleStudent, nil
	case "hr":
		return RoleHR, nil
	case "study-office", "studyoffice", "study_office":
		return RoleStudyOffice, nil
	default:
		return "", ErrUnknownRole
	}
}

// CanIssueSessions reports whether the role may open a check-in session.
func CanIssueSessions(role Role) bool {
	switch role {
	case RoleAdmin, RoleTeacher, RoleFaculty:
		return true
	default:
		return false
	}
}
