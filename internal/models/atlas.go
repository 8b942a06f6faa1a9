// internal/models/atlas.go
package models

import "strings"

// Link 外部参考链接
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Person 历史人物
type Person struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	ShortBio string `json:"shortBio"`
	ImageURL string `json:"imageUrl,omitempty"`
	Content  string `json:"content,omitempty"`
	Links    []Link `json:"links,omitempty"`
}

// Event 历史事件
type Event struct {
	Title       string `json:"title"`
	Year        string `json:"year"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Content     string `json:"content,omitempty"`
	Links       []Link `json:"links,omitempty"`
}

// Location 历史地点
type Location struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Significance string `json:"significance"`
	ImageURL     string `json:"imageUrl,omitempty"`
	Content      string `json:"content,omitempty"`
	Links        []Link `json:"links,omitempty"`
	MapLink      string `json:"mapLink,omitempty"`
}

// Era is one chronological segment of a location's history.
type Era struct {
	EraName      string     `json:"eraName"`
	YearRange    string     `json:"yearRange"`
	Summary      string     `json:"summary"`
	VisualPrompt string     `json:"visualPrompt"`
	People       []Person   `json:"people"`
	Events       []Event    `json:"events"`
	Locations    []Location `json:"locations"`
}

// EntityNames 按 人物、事件、地点 的顺序返回本时代所有条目的名称
func (e Era) EntityNames() []string {
	names := make([]string, 0, len(e.People)+len(e.Events)+len(e.Locations))
	for _, p := range e.People {
		names = append(names, p.Name)
	}
	for _, ev := range e.Events {
		names = append(names, ev.Title)
	}
	for _, l := range e.Locations {
		names = append(names, l.Name)
	}
	return names
}

// WithEntityImages returns a copy of the era whose entities carry the image chosen by
// pick. The receiver's slices are not modified.
func (e Era) WithEntityImages(pick func(name string) string) Era {
	out := e

	out.People = make([]Person, len(e.People))
	for i, p := range e.People {
		p.ImageURL = pick(p.Name)
		out.People[i] = p
	}

	out.Events = make([]Event, len(e.Events))
	for i, ev := range e.Events {
		ev.ImageURL = pick(ev.Title)
		out.Events[i] = ev
	}

	out.Locations = make([]Location, len(e.Locations))
	for i, l := range e.Locations {
		l.ImageURL = pick(l.Name)
		out.Locations[i] = l
	}

	return out
}

// SiteLink 地标及其坐标
type SiteLink struct {
	Title string   `json:"title"`
	URI   string   `json:"uri"`
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`
}

// HasCoordinates reports whether both coordinates are present.
func (l SiteLink) HasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// HistoricalSitesData 地理空间查询结果
type HistoricalSitesData struct {
	Text  string     `json:"text"`
	Links []SiteLink `json:"links"`
}

// TimelineData is the pipeline accumulator. Every stage produces a shallow copy
// carrying one more populated field.
type TimelineData struct {
	Location        string               `json:"location"`
	Eras            []Era                `json:"eras"`
	HistoricalSites *HistoricalSitesData `json:"historicalSites,omitempty"`
	EraImages       map[string]*string   `json:"eraImages,omitempty"`
	GlobalVideoURL  *string              `json:"globalVideoUrl,omitempty"`
}

// WithSites 返回附带地标数据的副本
func (t TimelineData) WithSites(sites HistoricalSitesData) *TimelineData {
	t.HistoricalSites = &sites
	return &t
}

// WithEras 返回替换了时代列表的副本
func (t TimelineData) WithEras(eras []Era) *TimelineData {
	t.Eras = eras
	return &t
}

// WithEraImages 返回附带时代图像的副本
func (t TimelineData) WithEraImages(images map[string]*string) *TimelineData {
	t.EraImages = images
	return &t
}

// WithVideo 返回附带全局视频的副本
func (t TimelineData) WithVideo(url string) *TimelineData {
	t.GlobalVideoURL = &url
	return &t
}

// FindEra 按名称（不区分大小写）查找时代
func (t TimelineData) FindEra(name string) (Era, bool) {
	for _, era := range t.Eras {
		if strings.EqualFold(era.EraName, name) {
			return era, true
		}
	}
	return Era{}, false
}

// ChatRole 对话角色
type ChatRole string

const (
	ChatRoleUser  ChatRole = "user"
	ChatRoleModel ChatRole = "model"
)

// ChatMessage 对话历史中的一条消息
type ChatMessage struct {
	Role ChatRole `json:"role"`
	Text string   `json:"text"`
}

// ChatContext 聊天时的历史背景
type ChatContext struct {
	Location string `json:"location"`
	Era      string `json:"era,omitempty"`
	Summary  string `json:"summary,omitempty"`
}
