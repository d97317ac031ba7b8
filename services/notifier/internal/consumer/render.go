package consumer

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var funcs = template.FuncMap{
	"actor": describeNextActor,
	"human": humanize,
}

func mustTemplate(name, subject, body string) emailTemplate {
	return emailTemplate{
		subject: template.Must(template.New(name + ".subject").Funcs(funcs).Parse(subject)),
		body:    template.Must(template.New(name + ".body").Funcs(funcs).Parse(body)),
	}
}

var templates = map[string]emailTemplate{
	EventSubmitted: mustTemplate(EventSubmitted,
		`Access request {{.ReferenceCode}} submitted`,
		`Hello {{.RequesterName}},

your access request {{.ReferenceCode}} has been submitted and is now waiting for {{actor .NextActor}}.
`),
	EventReturned: mustTemplate(EventReturned,
		`Access request {{.ReferenceCode}} needs your update`,
		`Hello {{.RequesterName}},

your access request {{.ReferenceCode}} was returned for update.
{{- if .Notes}}

Reason: {{.Notes}}
{{- end}}
`),
	EventLineDecided: mustTemplate(EventLineDecided,
		`Access request {{.ReferenceCode}}: {{.EntityName}} {{human .LineStatus}}`,
		`Hello {{.RequesterName}},

your permissions for {{.EntityName}} in access request {{.ReferenceCode}} were {{human .LineStatus}}.
{{- if .Notes}}

Notes: {{.Notes}}
{{- end}}
`),
	EventDecided: mustTemplate(EventDecided,
		`Access request {{.ReferenceCode}} {{human .Status}}`,
		`Hello {{.RequesterName}},

your access request {{.ReferenceCode}} is now {{human .Status}}.
`),
}

// render returns the subject and body for event. The bool is false when no
// template exists for the event type.
func render(event *AccessRequestEvent) (string, string, bool, error) {
	tmpl, ok := templates[event.EventType]
	if !ok {
		return "", "", false, nil
	}
	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, event); err != nil {
		return "", "", true, fmt.Errorf("render subject: %w", err)
	}
	if err := tmpl.body.Execute(&body, event); err != nil {
		return "", "", true, fmt.Errorf("render body: %w", err)
	}
	return strings.TrimSpace(subject.String()), body.String(), true, nil
}

func describeNextActor(next string) string {
	switch next {
	case "uknf":
		return "review by the supervisory authority"
	case "entity_admin":
		return "review by your entity administrator"
	case "requester":
		return "your update"
	default:
		return "no further action"
	}
}

func humanize(status string) string {
	return strings.ReplaceAll(strings.ToLower(status), "_", " ")
}
