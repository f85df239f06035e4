package push

import (
	"strings"

	"azaan/internal/util"
)

const DefaultBodyTemplate = "It's time for {prayer} prayer at {time}"

// PrayerMessage builds the notification for one prayer. bodyTemplate may use
// {prayer} and {time}; an empty template falls back to DefaultBodyTemplate.
func PrayerMessage(prayer, clock, bodyTemplate string) Message {
	if bodyTemplate == "" {
		bodyTemplate = DefaultBodyTemplate
	}
	name := util.Capitalize(prayer)
	return Message{
		Title: name + " Prayer Time",
		Body:  util.RenderTemplate(bodyTemplate, map[string]string{"prayer": prayer, "time": clock}),
		Data: map[string]string{
			"type":   strings.ToLower(prayer) + "time",
			"prayer": strings.ToUpper(prayer),
			"time":   clock,
			"sound":  "azaan",
		},
		Android: AndroidOptions{ChannelID: "prayer", Sound: "azaan", HighPriority: true},
		APNs:    APNsOptions{Sound: "azaan.wav", Badge: 1, ContentAvailable: true},
	}
}
