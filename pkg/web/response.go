package web

import (
	"image"
	"time"

	"github.com/teslashibe/go-camelbeauty/pkg/score"
)

// categoryKey names the category entry in scores_dict.
const categoryKey = "category_encoded"

// Report is the per-image score payload. Attribute and category entries
// share scores_dict, keyed by head name.
type Report struct {
	ScoresDict map[string]any `json:"scores_dict"`
	TotalScore float64        `json:"total_score_0_100"`
	StarRating float64        `json:"star_rating_0_5"`
}

func newReport(b score.Bundle) Report {
	dict := make(map[string]any, len(b.Attributes)+1)
	for _, a := range b.Attributes {
		dict[a.Name] = a
	}
	dict[categoryKey] = b.Category
	return Report{
		ScoresDict: dict,
		TotalScore: b.TotalScore,
		StarRating: b.StarRating,
	}
}

type detection struct {
	ImageID     string  `json:"image_id,omitempty"`
	BodyBBox    [4]int  `json:"body_bbox"`
	FaceBBox    *[4]int `json:"face_bbox"`
	Results     Report  `json:"results"`
	Rank        int     `json:"rank,omitempty"`
	ImageBase64 string  `json:"image_base64"`
}

type singleResponse struct {
	Success bool `json:"success"`
	detection
}

type batchResponse struct {
	Success     bool        `json:"success"`
	TotalImages int         `json:"total_images"`
	Successful  int         `json:"successful"`
	Failed      int         `json:"failed"`
	Results     []detection `json:"results"`
}

// Event is broadcast on /ws/events after each completed inference.
type Event struct {
	Type      string        `json:"type"` // single, batch
	RequestID string        `json:"request_id"`
	Time      time.Time     `json:"time"`
	Images    int           `json:"images"`
	Results   []EventResult `json:"results"`
}

// EventResult summarizes one scored image, best first.
type EventResult struct {
	Rank       int     `json:"rank"`
	TotalScore float64 `json:"total_score_0_100"`
	StarRating float64 `json:"star_rating_0_5"`
	Category   string  `json:"category"`
}

// box converts a rectangle to [x1, y1, x2, y2].
func box(r image.Rectangle) [4]int {
	return [4]int{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y}
}

func optionalBox(r *image.Rectangle) *[4]int {
	if r == nil {
		return nil
	}
	b := box(*r)
	return &b
}
