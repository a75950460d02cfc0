package booru

import (
	"context"
	"net/url"
	"strconv"
)

// moebooruClient serves konachan and yande.re, which share the moebooru API.
type moebooruClient struct {
	fetcher
}

func newKonachan(opt Options) Client {
	return &moebooruClient{fetcher: newFetcher(Konachan, "https://konachan.com", opt)}
}

func newYandere(opt Options) Client {
	return &moebooruClient{fetcher: newFetcher(Yandere, "https://yande.re", opt)}
}

type moebooruPost struct {
	ID         int64  `json:"id"`
	FileURL    string `json:"file_url"`
	SampleURL  string `json:"sample_url"`
	PreviewURL string `json:"preview_url"`
	Tags       string `json:"tags"`
	Rating     string `json:"rating"`
}

func (c *moebooruClient) Fetch(ctx context.Context, req FetchRequest) ([]Item, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(req.Page+1))
	q.Set("tags", tagQuery(req.Tags, req.Explicit, "rating:e"))
	if c.creds.APIKey != "" {
		q.Set("login", c.creds.Login)
		q.Set("password_hash", c.creds.APIKey)
	}

	var posts []moebooruPost
	if err := c.getJSON(ctx, "/post.json", q, &posts); err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(posts))
	for _, p := range posts {
		fileURL := p.FileURL
		if fileURL == "" {
			fileURL = p.SampleURL
		}
		if fileURL == "" {
			continue
		}
		out = append(out, Item{
			Provider:   c.id,
			RemoteID:   itoa(p.ID),
			FileURL:    absoluteURL(c.base, fileURL),
			PreviewURL: absoluteURL(c.base, p.PreviewURL),
			Tags:       SplitTags(p.Tags),
			Rating:     ParseRating(p.Rating),
		})
	}
	return out, nil
}
