package booru

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

// Derpibooru queries are comma-separated and a query is mandatory.
type derpibooruClient struct {
	fetcher
}

func newDerpibooru(opt Options) Client {
	return &derpibooruClient{fetcher: newFetcher(Derpibooru, "https://derpibooru.org", opt)}
}

type derpibooruImage struct {
	ID              int64    `json:"id"`
	Tags            []string `json:"tags"`
	Representations struct {
		Full  string `json:"full"`
		Thumb string `json:"thumb"`
	} `json:"representations"`
}

type derpibooruPage struct {
	Images []derpibooruImage `json:"images"`
}

func (c *derpibooruClient) Fetch(ctx context.Context, req FetchRequest) ([]Item, error) {
	terms := append([]string(nil), req.Tags...)
	if req.Explicit {
		terms = append(terms, "explicit")
	}
	query := strings.Join(terms, ",")
	if query == "" {
		query = "*"
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("per_page", "50")
	q.Set("page", strconv.Itoa(req.Page+1))
	if c.creds.APIKey != "" {
		q.Set("key", c.creds.APIKey)
	}

	var page derpibooruPage
	if err := c.getJSON(ctx, "/api/v1/json/search/images", q, &page); err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(page.Images))
	for _, img := range page.Images {
		if img.Representations.Full == "" {
			continue
		}
		tags := make([]string, 0, len(img.Tags))
		rating := RatingUnknown
		for _, t := range img.Tags {
			t = NormalizeTag(t)
			if t == "" {
				continue
			}
			tags = append(tags, t)
			// Derpibooru encodes the rating as a regular tag.
			if r := ParseRating(t); r != RatingUnknown && rating == RatingUnknown {
				rating = r
			}
		}
		out = append(out, Item{
			Provider:   c.id,
			RemoteID:   itoa(img.ID),
			FileURL:    absoluteURL(c.base, img.Representations.Full),
			PreviewURL: absoluteURL(c.base, img.Representations.Thumb),
			Tags:       tags,
			Rating:     rating,
		})
	}
	return out, nil
}
