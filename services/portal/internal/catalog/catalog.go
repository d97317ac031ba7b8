package catalog

import "time"

// Catalog groups the demo repositories served read-only by the portal.
type Catalog struct {
	Reports       *Repository[Report]
	Messages      *Repository[Message]
	Cases         *Repository[Case]
	Announcements *Repository[Announcement]
	Library       *Repository[LibraryDocument]
	FAQ           *Repository[FAQ]
	Roles         *Repository[Role]
	Users         *Repository[User]
}

func New(seed Seed) *Catalog {
	return &Catalog{
		Reports: NewRepository(seed.Reports,
			func(r Report) string { return r.ID },
			func(r Report) time.Time { return r.SubmittedAt }),
		Messages: NewRepository(seed.Messages,
			func(m Message) string { return m.ID },
			func(m Message) time.Time { return m.SentAt }),
		Cases: NewRepository(seed.Cases,
			func(c Case) string { return c.ID },
			func(c Case) time.Time { return c.UpdatedAt }),
		Announcements: NewRepository(seed.Announcements,
			func(a Announcement) string { return a.ID },
			func(a Announcement) time.Time { return a.PublishedAt }),
		Library: NewRepository(seed.Library,
			func(d LibraryDocument) string { return d.ID },
			func(d LibraryDocument) time.Time { return d.PublishedAt }),
		FAQ: NewRepository(seed.FAQ,
			func(f FAQ) string { return f.ID },
			func(f FAQ) time.Time { return f.UpdatedAt }),
		Roles: NewRepository(seed.Roles,
			func(r Role) string { return r.ID },
			func(Role) time.Time { return time.Time{} }),
		Users: NewRepository(seed.Users,
			func(u User) string { return u.ID },
			func(u User) time.Time {
				if u.LastLoginAt == nil {
					return time.Time{}
				}
				return *u.LastLoginAt
			}),
	}
}

type Seed struct {
	Reports       []Report
	Messages      []Message
	Cases         []Case
	Announcements []Announcement
	Library       []LibraryDocument
	FAQ           []FAQ
	Roles         []Role
	Users         []User
}

func ts(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

// DemoSeed returns the records the demo portal starts with.
func DemoSeed() Seed {
	lastLogin := ts("2025-03-25T07:12:00Z")
	return Seed{
		Reports: []Report{
			{ID: "rip-2025-q1", Name: "RIP Reporting Package", Period: "Q1 2025", Status: "Validation Error", SubmittedAt: ts("2025-04-07T10:30:00Z")},
			{ID: "rip-2025-q2", Name: "RIP Reporting Package", Period: "Q2 2025", Status: "Submitted", SubmittedAt: ts("2025-07-06T09:12:00Z")},
			{ID: "aml-annual-2024", Name: "AML Annual Summary", Period: "2024", Status: "Validated", SubmittedAt: ts("2025-01-12T13:45:00Z")},
		},
		Messages: []Message{
			{ID: "msg-1", Subject: "Clarification: PSD2 reporting scope", Entity: "Bank of Example S.A.", SentAt: ts("2025-03-14T15:20:00Z")},
			{ID: "msg-2", Subject: "Follow-up: Cyber incident notification", Entity: "SecurePay Payments Sp. z o.o.", SentAt: ts("2025-03-10T08:05:00Z")},
		},
		Cases: []Case{
			{ID: "case-1", Reference: "UKNF/2025/221", Title: "Late submission of quarterly report", Status: "In Review", UpdatedAt: ts("2025-03-26T11:10:00Z")},
			{ID: "case-2", Reference: "UKNF/2025/198", Title: "Request for additional AML documentation", Status: "Awaiting Entity Response", UpdatedAt: ts("2025-03-19T09:48:00Z")},
		},
		Announcements: []Announcement{
			{ID: "announcement-1", Title: "New prudential reporting taxonomy available", Audience: "Banks", ReadRatio: 0.62, PublishedAt: ts("2025-03-01T06:00:00Z")},
			{ID: "announcement-2", Title: "Reminder: Cyber resilience self-assessment deadline", Audience: "Payment Institutions", ReadRatio: 0.43, PublishedAt: ts("2025-02-20T10:00:00Z")},
		},
		Library: []LibraryDocument{
			{ID: "lib-1", Title: "UKNF Reporting Manual 2025", Category: "Guidelines", PublishedAt: ts("2025-01-15T00:00:00Z"), URL: "https://example.com/files/reporting-manual-2025.pdf"},
			{ID: "lib-2", Title: "Cyber incident notification template", Category: "Templates", PublishedAt: ts("2025-02-05T00:00:00Z"), URL: "https://example.com/files/cyber-incident-template.docx"},
		},
		FAQ: []FAQ{
			{
				ID:        "faq-1",
				Question:  "How long do we keep regulatory correspondence?",
				Answer:    "All case-related communications are retained for a minimum of seven years in compliance with sector regulations.",
				UpdatedAt: ts("2025-03-12T00:00:00Z"),
			},
			{
				ID:        "faq-2",
				Question:  "Can we submit corrections after validation errors?",
				Answer:    "Yes. Upload a corrected file referencing the original submission ID. The validation engine tracks versions automatically.",
				UpdatedAt: ts("2025-03-08T00:00:00Z"),
			},
		},
		Roles: []Role{
			{ID: "system-admin", Name: "System Administrator", Description: "Full platform administration", Permissions: []string{"users.manage", "roles.manage", "policies.manage"}},
			{ID: "supervisor", Name: "Supervisor", Description: "Review submissions and coordinate cases", Permissions: []string{"reports.review", "cases.manage"}},
			{ID: "analyst", Name: "Analyst", Description: "Validate reports and publish findings", Permissions: []string{"reports.validate"}},
		},
		Users: []User{
			{ID: "admin-1", Email: "admin@uknf.gov.pl", DisplayName: "System Administrator", Roles: []string{"system-admin"}, Status: "Active", LastLoginAt: &lastLogin},
			{ID: "supervisor-1", Email: "supervisor@uknf.gov.pl", DisplayName: "Supervision Officer", Roles: []string{"supervisor"}, Status: "Active"},
		},
	}
}
