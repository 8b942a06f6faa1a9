// internal/models/fallback.go
package models

import (
	_ "embed"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// 占位资源
const (
	PlaceholderBase      = "https://placehold.co/400x300/2a2420/d4b483?text="
	EraPlaceholderBase   = "https://placehold.co/800x800/2a2420/d4b483?text="
	DemoVideoURL         = "https://storage.googleapis.com/gtv-videos-bucket/sample/ElephantsDream.mp4"
	DefaultFallbackPlace = "Rome"
)

// Rome city centre, used when a landmark comes back without coordinates.
const (
	DefaultLat = 41.9028
	DefaultLng = 12.4964
)

//go:embed data/fallback_timeline.json
var fallbackTimelineJSON []byte

var parenthesizedSuffix = regexp.MustCompile(`\s*\(.*?\)\s*`)

// FallbackTimeline 返回离线演示数据集的一份独立副本
func FallbackTimeline() *TimelineData {
	var data TimelineData
	if err := json.Unmarshal(fallbackTimelineJSON, &data); err != nil {
		// 内嵌数据在构建时就已确定
		panic("models: invalid embedded fallback timeline: " + err.Error())
	}
	return &data
}

// FallbackTimelineFor returns the demo dataset relabelled for the requested place.
func FallbackTimelineFor(query string) *TimelineData {
	data := FallbackTimeline()
	data.Location = CleanPlaceName(query)
	if data.Location == "" {
		data.Location = DefaultFallbackPlace
	}
	return data
}

// FallbackSites 返回演示数据集中的地标
func FallbackSites() HistoricalSitesData {
	return *FallbackTimeline().HistoricalSites
}

// CleanPlaceName strips parenthesised annotations such as " (Demo Mode)".
func CleanPlaceName(query string) string {
	return strings.TrimSpace(parenthesizedSuffix.ReplaceAllString(query, ""))
}

// EntityPlaceholder 卡片占位图
func EntityPlaceholder(name string) string {
	return PlaceholderBase + url.QueryEscape(name)
}

// EraPlaceholder 时代视觉占位图
func EraPlaceholder(eraName string) string {
	return EraPlaceholderBase + url.QueryEscape(eraName) + "+Visual"
}
