package booru

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
)

// MediaKind selects one of the untagged random media sources.
type MediaKind string

const (
	MediaBoobs MediaKind = "boobs"
	MediaButts MediaKind = "butts"
)

// ErrEmpty is returned when a source answers without any usable item.
var ErrEmpty = errors.New("empty response")

// MediaSource fetches one random item from an oboobs/obutts style API:
// GET {api}/{kind}/{n} returns a list of {id, preview}; the file lives at
// {media}/{preview}.
type MediaSource struct {
	fetcher
	kind     MediaKind
	mediaURL string
	maxIndex int
	intn     func(n int) int
}

// MediaOptions overrides the endpoints of a media source (tests, mirrors).
type MediaOptions struct {
	Options
	MediaURL string
}

func NewMediaSource(kind MediaKind, opt MediaOptions) (*MediaSource, error) {
	var (
		id       ID
		api      string
		media    string
		maxIndex int
	)
	switch kind {
	case MediaBoobs:
		id, api, media, maxIndex = OBoobs, "http://api.oboobs.ru", "http://media.oboobs.ru", 10330
	case MediaButts:
		id, api, media, maxIndex = OButts, "http://api.obutts.ru", "http://media.obutts.ru", 4335
	default:
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}
	if m := strings.TrimRight(strings.TrimSpace(opt.MediaURL), "/"); m != "" {
		media = m
	}
	return &MediaSource{
		fetcher:  newFetcher(id, api, opt.Options),
		kind:     kind,
		mediaURL: media,
		maxIndex: maxIndex,
		intn:     rand.IntN,
	}, nil
}

func (m *MediaSource) Kind() MediaKind { return m.kind }

type mediaEntry struct {
	ID      flexString `json:"id"`
	Preview string     `json:"preview"`
}

// Random returns a random item. The index is drawn from [0, maxIndex].
func (m *MediaSource) Random(ctx context.Context) (Item, error) {
	n := m.intn(m.maxIndex + 1)
	var entries []mediaEntry
	if err := m.getJSON(ctx, "/"+string(m.kind)+"/"+itoa(int64(n)), nil, &entries); err != nil {
		return Item{}, err
	}
	if len(entries) == 0 || strings.TrimSpace(entries[0].Preview) == "" {
		return Item{}, fmt.Errorf("%s: %w", m.id, ErrEmpty)
	}
	e := entries[0]
	fileURL, err := url.JoinPath(m.mediaURL, e.Preview)
	if err != nil {
		return Item{}, fmt.Errorf("%s: bad preview path: %w", m.id, err)
	}
	return Item{
		Provider: m.id,
		RemoteID: string(e.ID),
		FileURL:  fileURL,
		Rating:   RatingExplicit,
	}, nil
}
