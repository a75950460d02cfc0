package booru

import (
	"context"
	"net/url"
	"strconv"
)

type danbooruClient struct {
	fetcher
}

func newDanbooru(opt Options) Client {
	return &danbooruClient{fetcher: newFetcher(Danbooru, "https://danbooru.donmai.us", opt)}
}

type danbooruPost struct {
	ID             int64  `json:"id"`
	FileURL        string `json:"file_url"`
	LargeFileURL   string `json:"large_file_url"`
	PreviewFileURL string `json:"preview_file_url"`
	TagString      string `json:"tag_string"`
	Rating         string `json:"rating"`
}

func (c *danbooruClient) Fetch(ctx context.Context, req FetchRequest) ([]Item, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(req.Page+1))
	q.Set("tags", tagQuery(req.Tags, req.Explicit, "rating:e"))
	if c.creds.APIKey != "" {
		q.Set("login", c.creds.Login)
		q.Set("api_key", c.creds.APIKey)
	}

	var posts []danbooruPost
	if err := c.getJSON(ctx, "/posts.json", q, &posts); err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(posts))
	for _, p := range posts {
		// Restricted posts come back without any file url.
		fileURL := p.FileURL
		if fileURL == "" {
			fileURL = p.LargeFileURL
		}
		if fileURL == "" {
			continue
		}
		out = append(out, Item{
			Provider:   c.id,
			RemoteID:   itoa(p.ID),
			FileURL:    absoluteURL(c.base, fileURL),
			PreviewURL: absoluteURL(c.base, p.PreviewFileURL),
			Tags:       SplitTags(p.TagString),
			Rating:     ParseRating(p.Rating),
		})
	}
	return out, nil
}
