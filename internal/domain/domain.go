package domain

import (
	"fmt"
	"time"
)

type PostKind string

const (
	PostKindArticle PostKind = "AR"
	PostKindNews    PostKind = "NW"
)

const (
	postPreviewLength = 125
	postPreviewSuffix = "..."
)

type Post struct {
	ID         int64     `json:"id"`
	AuthorID   int64     `json:"authorId"`
	CategoryID int64     `json:"categoryId"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	Kind       PostKind  `json:"kind"`
	CreatedAt  time.Time `json:"createdAt"`
	Rating     int64     `json:"rating"`
}

// AbsoluteURL is the site-relative path of the post page.
func (p *Post) AbsoluteURL() string {
	return fmt.Sprintf("/posts/%d", p.ID)
}

func (p *Post) Preview() string {
	return Truncate(p.Text, postPreviewLength) + postPreviewSuffix
}

type Category struct {
	ID   int64
	Name string
}

type User struct {
	ID       int64
	Username string
	Email    string
}

// Subscription is the category/user join row. The same pair may appear twice.
type Subscription struct {
	ID         int64
	CategoryID int64
	UserID     int64
}

type Author struct {
	ID     int64
	UserID int64
	Rating int64
}

type Comment struct {
	ID        int64
	PostID    int64
	UserID    int64
	Text      string
	CreatedAt time.Time
	Rating    int64
}

type Notification struct {
	RecipientName    string `json:"recipientName"`
	RecipientAddress string `json:"recipientAddress"`
	Subject          string `json:"subject"`
	HTMLBody         string `json:"htmlBody"`
}

type JobDefinition struct {
	ID              string `yaml:"id"`
	Spec            string `yaml:"spec"`
	MaxInstances    int    `yaml:"maxInstances"`
	ReplaceExisting bool   `yaml:"replaceExisting"`
}

type ExecutionStatus string

const (
	ExecutionExecuted ExecutionStatus = "executed"
	ExecutionError    ExecutionStatus = "error"
	ExecutionSkipped  ExecutionStatus = "skipped"
)

type JobExecution struct {
	ID       string
	JobID    string
	Status   ExecutionStatus
	FiredAt  time.Time
	Duration time.Duration
	Error    string
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskDead    TaskStatus = "dead"
)

type Task struct {
	ID          string
	Kind        string
	Payload     []byte
	Status      TaskStatus
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LeaseToken  string
	LastError   string
}
