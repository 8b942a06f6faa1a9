// internal/services/prompts.go
package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Corphon/ChronoAtlas/internal/models"
)

const (
	maxVideoEras      = 5
	videoEraSeparator = " -> then transition to -> "
	defaultChatEra    = "General History"
	chatDemoModeReply = "I am currently in Demo Mode due to high API traffic or connectivity issues. I can't generate new responses right now, but feel free to explore the visual timeline!"
)

func timelinePrompt(location string) string {
	return fmt.Sprintf(`
Perform a deep historical analysis of %[1]s.
Divide its history into <5> distinct, chronologically ordered eras.

For each era, provide:
1. Era Name & Year Range
2. Summary (80 words)
3. Visual Prompt (for 3D generation)
4. People (3): Name, Role, Short Bio.
   - PLUS: 'content' (Detailed 2-paragraph biography), 'links' (Array of {title, url}).
5. Events (3): Title, Year, Description.
   - PLUS: 'content' (Detailed description), 'links' (Array of {title, url}).
6. Locations (3): Name, Type, Significance.
   - PLUS: 'content' (Description), 'links' (Array of {title, url}), 'mapLink' (Google Maps URL).

Return JSON matching schema:
{
  "location": "%[1]s",
  "eras": [
    {
      "eraName": "string",
      "yearRange": "string",
      "summary": "string",
      "visualPrompt": "string",
      "people": [{ "name": "string", "role": "string", "shortBio": "string", "content": "string", "links": [{ "title": "string", "url": "string" }] }],
      "events": [{ "title": "string", "year": "string", "description": "string", "content": "string", "links": [{ "title": "string", "url": "string" }] }],
      "locations": [{ "name": "string", "type": "string", "significance": "string", "content": "string", "links": [{ "title": "string", "url": "string" }], "mapLink": "string" }]
    }
  ]
}
`, location)
}

func sitesPrompt(location string) string {
	return fmt.Sprintf(`
List 5 historical landmarks in %s.
Get their specific latitude and longitude.
Return ONLY valid JSON:
{
    "text": "Short analysis...",
    "links": [{ "title": "Name", "uri": "Map URL", "lat": 0.0, "lng": 0.0 }]
}
`, location)
}

func entityImagesPrompt(location string, names []string) string {
	encoded, _ := json.Marshal(names)
	return fmt.Sprintf(`
You are an image searcher.
Find a valid public image URL for these %s history topics: %s.

Return ONLY a JSON object mapping names to URLs.
Example: { "Julius Caesar": "http://image.com/caesar.jpg" }
`, location, encoded)
}

func eraImagePrompt(location, eraName, visualPrompt string) string {
	return fmt.Sprintf(`Present a clear, top-down isometric miniature 3D cartoon scene of %s during the era of %s.
Description: %s.
Features: Iconic landmarks, architectural elements, historic locations, scenes from the era.
Style: Soft, refined textures, realistic PBR materials, gentle lifelike lighting and shadows. Clean, minimalistic composition with a soft, solid-colored background.`,
		location, eraName, visualPrompt)
}

// videoPrompt 最多串联前 5 个时代
func videoPrompt(location string, eras []models.Era) string {
	if len(eras) > maxVideoEras {
		eras = eras[:maxVideoEras]
	}
	sequence := make([]string, len(eras))
	for i, era := range eras {
		sequence[i] = fmt.Sprintf("%s (%s): %s", era.EraName, era.YearRange, era.VisualPrompt)
	}

	return fmt.Sprintf(`Cinematic timelapse video of %s evolving through time.
Show the transition through these historical periods: %s.
Style: Historical documentary, realistic, smooth transitions showing architectural evolution.`,
		location, strings.Join(sequence, videoEraSeparator))
}

func chatSystemPrompt(chatContext models.ChatContext) string {
	era := chatContext.Era
	if era == "" {
		era = defaultChatEra
	}
	return fmt.Sprintf(`You are a knowledgeable historian guide for the location: %s.
Current Era Context: %s.
Summary: %s.
Keep answers concise, engaging, and historically accurate. Focus on the requested era if applicable.`,
		chatContext.Location, era, chatContext.Summary)
}

// BuildNarrative 组装时代旁白文本
func BuildNarrative(location string, era models.Era) string {
	figures := make([]string, len(era.People))
	for i, p := range era.People {
		figures[i] = fmt.Sprintf("%s, %s", p.Name, p.Role)
	}
	events := make([]string, len(era.Events))
	for i, e := range era.Events {
		events[i] = fmt.Sprintf("%s: %s", e.Year, e.Title)
	}

	return fmt.Sprintf("Exploring %s during the era of %s, covering the years %s.\nOverview: %s\nNotable Historical Figures: %s.\nKey Events: %s.",
		location, era.EraName, era.YearRange, era.Summary,
		strings.Join(figures, ". "), strings.Join(events, ". "))
}
