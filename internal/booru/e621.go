package booru

import (
	"context"
	"net/url"
	"strconv"

	"github.com/samber/lo"
)

type e621Client struct {
	fetcher
}

func newE621(opt Options) Client {
	return &e621Client{fetcher: newFetcher(E621, "https://e621.net", opt)}
}

type e621Post struct {
	ID   int64 `json:"id"`
	File struct {
		URL string `json:"url"`
	} `json:"file"`
	Preview struct {
		URL string `json:"url"`
	} `json:"preview"`
	Tags   map[string][]string `json:"tags"`
	Rating string              `json:"rating"`
}

type e621Page struct {
	Posts []e621Post `json:"posts"`
}

func (c *e621Client) Fetch(ctx context.Context, req FetchRequest) ([]Item, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(req.Page+1))
	q.Set("tags", tagQuery(req.Tags, req.Explicit, "rating:e"))
	if c.creds.APIKey != "" {
		q.Set("login", c.creds.Login)
		q.Set("api_key", c.creds.APIKey)
	}

	var page e621Page
	if err := c.getJSON(ctx, "/posts.json", q, &page); err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(page.Posts))
	for _, p := range page.Posts {
		if p.File.URL == "" {
			continue
		}
		// Tags are grouped by category; flatten them.
		var tags []string
		for _, group := range p.Tags {
			tags = append(tags, group...)
		}
		tags = lo.Uniq(lo.FilterMap(tags, func(t string, _ int) (string, bool) {
			t = NormalizeTag(t)
			return t, t != ""
		}))
		out = append(out, Item{
			Provider:   c.id,
			RemoteID:   itoa(p.ID),
			FileURL:    absoluteURL(c.base, p.File.URL),
			PreviewURL: absoluteURL(c.base, p.Preview.URL),
			Tags:       tags,
			Rating:     ParseRating(p.Rating),
		})
	}
	return out, nil
}
