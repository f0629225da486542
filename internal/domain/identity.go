package domain

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
)

// Identity is the resolved caller of a request. A nil *Identity is an anonymous caller.
type Identity struct {
	ID        string
	Name      string
	Role      Role
	StudentID string
}

// IsStaff reports whether the caller may host sessions.
func (i *Identity) IsStaff() bool {
	return i != nil && (i.Role == RoleAdmin || i.Role == RoleTeacher)
}

// LinkedStudentID returns the student account of a student caller, or "".
func (i *Identity) LinkedStudentID() string {
	if i == nil || i.Role != RoleStudent {
		return ""
	}
	if i.StudentID != "" {
		return i.StudentID
	}
	return i.ID
}
