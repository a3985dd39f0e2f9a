package youtube

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Metadata describes the uploaded video.
type Metadata struct {
	Title         string
	Description   string
	Tags          []string
	CategoryID    string
	PrivacyStatus string
}

// Title builds "<base> YYYY-MM-DD". With titleCase the base is title-cased.
func Title(base string, date time.Time, titleCase bool) string {
	base = strings.TrimSpace(base)
	if titleCase {
		base = cases.Title(language.English).String(base)
	}
	stamp := date.Format(time.DateOnly)
	if base == "" {
		return stamp
	}
	return base + " " + stamp
}

type videoResource struct {
	Snippet videoSnippet `json:"snippet"`
	Status  videoStatus  `json:"status"`
}

type videoSnippet struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CategoryID  string   `json:"categoryId,omitempty"`
}

type videoStatus struct {
	PrivacyStatus string `json:"privacyStatus"`
}

func (m Metadata) resource() videoResource {
	privacy := strings.TrimSpace(m.PrivacyStatus)
	if privacy == "" {
		privacy = "private"
	}
	return videoResource{
		Snippet: videoSnippet{
			Title:       m.Title,
			Description: m.Description,
			Tags:        m.Tags,
			CategoryID:  m.CategoryID,
		},
		Status: videoStatus{PrivacyStatus: privacy},
	}
}
