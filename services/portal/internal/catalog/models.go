package catalog

import "time"

type Report struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Period      string    `json:"period"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Message struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	Entity  string    `json:"entity"`
	SentAt  time.Time `json:"sent_at"`
}

type Case struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Announcement struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Audience    string    `json:"audience"`
	ReadRatio   float64   `json:"read_ratio"`
	PublishedAt time.Time `json:"published_at"`
}

type LibraryDocument struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url"`
}

type FAQ struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Roles       []string   `json:"roles"`
	Status      string     `json:"status"`
	LastLoginAt *time.Time `json:"last_login_at"`
}
