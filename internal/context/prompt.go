package context

import (
	"bytes"
	"strings"
	"text/template"
	"time"
)

// timeMarker is the phrase whose presence means a prompt already carries the
// current time.
const timeMarker = "current time is"

// addendumTemplate is appended to a persona that lacks the time marker.
// It uses text/template syntax with fields .Time and .Date.
const addendumTemplate = ` The current time is {{.Time}} and the date is {{.Date}}. PLEASE ALWAYS USE CELSIUS FOR WEATHER UNLESS ASKED OTHERWISE. CALL AT MOST ONE FUNCTION IN ANY RESPONSE.`

var addendum = template.Must(template.New("addendum").Parse(addendumTemplate))

// SystemPrompt returns the effective system prompt for one turn. The time
// addendum is added only when persona does not already mention the current
// time, so it is never injected twice.
func SystemPrompt(persona string, now time.Time) string {
	if strings.Contains(strings.ToLower(persona), timeMarker) {
		return persona
	}
	var b bytes.Buffer
	addendum.Execute(&b, struct{ Time, Date string }{
		Time: now.Format("03:04 PM"),
		Date: now.Format("Monday, January 02, 2006"),
	})
	return persona + b.String()
}
