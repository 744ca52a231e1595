package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	KindProduction      = "production"
	KindShipped         = "shipped"
	KindReconcileReport = "reconcile_report"
)

const trackOrderURL = "https://diffrun.com/track-your-order"

var titleCaser = cases.Title(language.Und)

var productionTemplate = template.Must(template.New("production").Parse(`Hi {{.DisplayName}},

Great news! {{.ChildName}}'s storybook has moved to production.
We'll let you know as soon as it ships.

Track your order: {{.TrackURL}}

Thanks,
Team Diffrun
`))

var shippedTemplate = template.Must(template.New("shipped").Parse(`Hi {{.DisplayName}},

{{.ChildName}}'s storybook is on its way.

Order: {{.OrderRef}}
Tracking: {{.Tracking}}
{{- if .TrackURL}}
Track your order: {{.TrackURL}}
{{- end}}

Thanks,
Team Diffrun
`))

type ProductionEmail struct {
	DisplayName string
	ChildName   string
	JobID       string
}

type ShippedEmail struct {
	DisplayName string
	ChildName   string
	OrderRef    string
	Tracking    string
	TrackURL    string
}

// RenderProduction returns the subject and plain-text body of the
// "in production" customer email.
func RenderProduction(e ProductionEmail) (string, string, error) {
	child := nameOr(e.ChildName, "Your")
	data := struct {
		DisplayName string
		ChildName   string
		TrackURL    string
	}{
		DisplayName: nameOr(e.DisplayName, "there"),
		ChildName:   child,
		TrackURL:    trackOrderURL,
	}
	if e.JobID != "" {
		data.TrackURL = trackOrderURL + "?job_id=" + e.JobID
	}

	body, err := render(productionTemplate, data)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("%s's storybook is now in production 🎉", child), body, nil
}

func RenderShipped(e ShippedEmail) (string, string, error) {
	e.DisplayName = nameOr(e.DisplayName, "there")
	e.ChildName = nameOr(e.ChildName, "Your")

	body, err := render(shippedTemplate, e)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("Your order from Diffrun %s has been shipped!", e.OrderRef), body, nil
}

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func nameOr(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	return titleCaser.String(name)
}
