package model

import (
	"time"
	"unicode/utf8"
)

const (
	TodoTable      = "todo"
	MaxTitleLength = 256
)

// Todo is the single synchronized entity. Owner never changes after the
// record is created.
type Todo struct {
	Id          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Completed   bool       `json:"completed"`
	Owner       string     `json:"owner"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy *string    `json:"completed_by,omitempty"`
}

// TodoInput holds the client supplied fields of a new todo.
type TodoInput struct {
	Id      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Validate checks the fields the backend requires.
func (in TodoInput) Validate() error {
	verr := &ValidationError{}
	checkText(verr, "title", in.Title)
	checkText(verr, "content", in.Content)
	if len(verr.Errors) > 0 {
		return verr
	}
	return nil
}

func checkText(verr *ValidationError, field, value string) {
	switch n := utf8.RuneCountInString(value); {
	case n == 0:
		verr.add(field, "is required")
	case n > MaxTitleLength:
		verr.add(field, "must be at most 256 characters")
	}
}
