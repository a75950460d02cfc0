package booru

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// dapiClient speaks the Gelbooru "dapi" protocol shared by gelbooru, rule34
// and safebooru. Gelbooru wraps posts in an object; the others return a bare
// array and may omit file_url, in which case it is rebuilt from directory and
// image.
type dapiClient struct {
	fetcher
	imageBase string
	ratingTag string
}

func newGelbooru(opt Options) Client {
	return &dapiClient{
		fetcher:   newFetcher(Gelbooru, "https://gelbooru.com", opt),
		imageBase: "https://img3.gelbooru.com",
		ratingTag: "rating:explicit",
	}
}

func newRule34(opt Options) Client {
	f := newFetcher(Rule34, "https://api.rule34.xxx", opt)
	return &dapiClient{fetcher: f, imageBase: "https://rule34.xxx"}
}

func newSafebooru(opt Options) Client {
	f := newFetcher(Safebooru, "https://safebooru.org", opt)
	return &dapiClient{fetcher: f, imageBase: f.base}
}

type dapiPost struct {
	ID         flexString `json:"id"`
	FileURL    string     `json:"file_url"`
	PreviewURL string     `json:"preview_url"`
	Directory  flexString `json:"directory"`
	Image      string     `json:"image"`
	Tags       string     `json:"tags"`
	Rating     string     `json:"rating"`
}

type dapiEnvelope struct {
	Post []dapiPost `json:"post"`
}

func (c *dapiClient) Fetch(ctx context.Context, req FetchRequest) ([]Item, error) {
	q := url.Values{}
	q.Set("page", "dapi")
	q.Set("s", "post")
	q.Set("q", "index")
	q.Set("json", "1")
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("pid", strconv.Itoa(req.Page))
	q.Set("tags", tagQuery(req.Tags, req.Explicit, c.ratingTag))
	if c.creds.APIKey != "" {
		q.Set("api_key", c.creds.APIKey)
		q.Set("user_id", c.creds.Login)
	}

	var raw json.RawMessage
	if err := c.getJSON(ctx, "/index.php", q, &raw); err != nil {
		return nil, err
	}
	posts, err := decodeDapi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", c.id, err)
	}

	out := make([]Item, 0, len(posts))
	for _, p := range posts {
		fileURL := absoluteURL(c.base, p.FileURL)
		if fileURL == "" {
			// Items without a resolvable location are useless downstream.
			if p.Directory == "" || strings.TrimSpace(p.Image) == "" {
				continue
			}
			fileURL = c.imageBase + "/images/" + string(p.Directory) + "/" + p.Image
		}
		out = append(out, Item{
			Provider:   c.id,
			RemoteID:   string(p.ID),
			FileURL:    fileURL,
			PreviewURL: absoluteURL(c.base, p.PreviewURL),
			Tags:       SplitTags(p.Tags),
			Rating:     ParseRating(p.Rating),
		})
	}
	return out, nil
}

func decodeDapi(raw json.RawMessage) ([]dapiPost, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var posts []dapiPost
		if err := json.Unmarshal(raw, &posts); err != nil {
			return nil, err
		}
		return posts, nil
	}
	var env dapiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return env.Post, nil
}
