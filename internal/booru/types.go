package booru

import (
	"context"
	"errors"
	"strings"
)

// ID identifies a content source. Values are stable and ordered by declaration.
type ID int

const (
	Safebooru ID = iota
	E621
	Derpibooru
	Rule34
	Gelbooru
	Konachan
	Yandere
	Danbooru

	// Untagged random media sources. They are not part of the registry table.
	OBoobs
	OButts
)

var idNames = map[ID]string{
	Safebooru:  "safebooru",
	E621:       "e621",
	Derpibooru: "derpibooru",
	Rule34:     "rule34",
	Gelbooru:   "gelbooru",
	Konachan:   "konachan",
	Yandere:    "yandere",
	Danbooru:   "danbooru",
	OBoobs:     "oboobs",
	OButts:     "obutts",
}

func (id ID) String() string {
	if s, ok := idNames[id]; ok {
		return s
	}
	return "unknown"
}

// Rating is the normalized content rating of an item.
type Rating string

const (
	RatingUnknown      Rating = ""
	RatingSafe         Rating = "safe"
	RatingQuestionable Rating = "questionable"
	RatingExplicit     Rating = "explicit"
)

// ParseRating maps the provider-specific rating spellings onto Rating.
func ParseRating(s string) Rating {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "g", "safe", "general", "sensitive":
		return RatingSafe
	case "q", "questionable":
		return RatingQuestionable
	case "e", "explicit":
		return RatingExplicit
	default:
		return RatingUnknown
	}
}

// Item is a single media post normalized from a provider response.
// Identity is (Provider, RemoteID).
type Item struct {
	Provider   ID
	RemoteID   string
	FileURL    string
	PreviewURL string
	Tags       []string
	Rating     Rating
}

// FetchRequest is one page query against a provider.
type FetchRequest struct {
	Tags     []string
	Page     int // 0-based; clients convert to the provider's convention
	Explicit bool
}

// Client queries one provider's public API.
type Client interface {
	Fetch(ctx context.Context, req FetchRequest) ([]Item, error)
}

var (
	// ErrStatus is wrapped when a provider answers with a non-2xx status.
	ErrStatus = errors.New("unexpected http status")
	// ErrUnknownProvider is returned for ids without a client constructor.
	ErrUnknownProvider = errors.New("unknown provider")
)

// NormalizeTag trims and lowercases a tag; booru tags are case-insensitive.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// SplitTags splits free-form user input into normalized tags.
func SplitTags(raw string) []string {
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := NormalizeTag(f); t != "" {
			out = append(out, t)
		}
	}
	return out
}
