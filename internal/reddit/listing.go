package reddit

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Post is a single entry of a new-post listing. In a combined fetch the
// Subreddit field attributes the post back to its source subreddit.
type Post struct {
	ID         string
	Title      string
	Subreddit  string
	Permalink  string
	URL        string
	CreatedUTC time.Time
}

// listing mirrors the JSON shape of Reddit's /new.json response.
type listing struct {
	Data struct {
		Children []struct {
			Data Post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// UnmarshalJSON decodes a post, converting created_utc from fractional
// epoch seconds into a UTC timestamp.
func (p *Post) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID         string  `json:"id"`
		Title      string  `json:"title"`
		Subreddit  string  `json:"subreddit"`
		Permalink  string  `json:"permalink"`
		URL        string  `json:"url"`
		CreatedUTC float64 `json:"created_utc"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode post: %w", err)
	}

	sec, frac := math.Modf(raw.CreatedUTC)
	*p = Post{
		ID:         raw.ID,
		Title:      raw.Title,
		Subreddit:  raw.Subreddit,
		Permalink:  raw.Permalink,
		URL:        raw.URL,
		CreatedUTC: time.Unix(int64(sec), int64(frac*1e9)).UTC(),
	}
	return nil
}
