package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleStudent, UserRoleTeacher, UserRoleAdmin:
		return true
	}
	return false
}

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Grade        int       `json:"grade,omitempty"` // students only, 0 = kindergarten
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Class is a group of students run by one teacher.
type Class struct {
	ID        int64     `json:"id"`
	TeacherID int64     `json:"teacher_id"`
	Name      string    `json:"name"`
	Grade     int       `json:"grade"`
	JoinCode  string    `json:"join_code"`
	CreatedAt time.Time `json:"created_at"`
}

// Enrollment links a student to a class.
type Enrollment struct {
	ClassID   int64     `json:"class_id"`
	StudentID int64     `json:"student_id"`
	JoinedAt  time.Time `json:"joined_at"`
}

// QuestionSource records where a question came from.
type QuestionSource string

const (
	SourceManual    QuestionSource = "manual"
	SourceGenerated QuestionSource = "generated"
	SourcePDF       QuestionSource = "pdf"
)

// Question is a single practice question.
type Question struct {
	ID       int64          `json:"id"`
	ClassID  int64          `json:"class_id"`
	SetID    int64          `json:"set_id,omitempty"`
	Text     string         `json:"question"`
	Answer   string         `json:"answer"`
	Options  []string       `json:"options,omitempty"`
	Hint     string         `json:"hint,omitempty"`
	Topic    string         `json:"topic"`
	Grade    int            `json:"grade"`
	Drawing  bool           `json:"drawing,omitempty"` // answered by sketching rather than typing
	Source   QuestionSource `json:"source"`
	Position int            `json:"position"`
}

// QuestionSet groups questions produced by one generation or extraction run.
type QuestionSet struct {
	ID        int64          `json:"id"`
	ClassID   int64          `json:"class_id"`
	Title     string         `json:"title"`
	Source    QuestionSource `json:"source"`
	CreatedBy int64          `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
}

// Attempt is one graded student answer.
type Attempt struct {
	ID          int64     `json:"id"`
	StudentID   int64     `json:"student_id"`
	QuestionID  int64     `json:"question_id"`
	Answer      string    `json:"answer"`
	Drawing     bool      `json:"drawing"`
	Correct     bool      `json:"correct"`
	Score       float64   `json:"score"`
	Feedback    string    `json:"feedback"`
	NeedsReview bool      `json:"needs_review"`
	CreatedAt   time.Time `json:"created_at"`
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	Lang             string
	MaxUploadBytes   int64
	DefaultQuestions int // question count when a generate request omits it
	MaxQuestions     int
}
