package content

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boorubot/internal/blacklist"
	"boorubot/internal/booru"
	"boorubot/internal/cache"
	"boorubot/internal/recurring"
	"boorubot/internal/search"
	"boorubot/internal/storage"
	kit "boorubot/internal/transport"
	logx "boorubot/pkg/logx"
)

type sent struct {
	To      kit.ChatTarget
	URL     string
	Caption string
	Text    string
}

type fakeDelivery struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeDelivery) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.sent = append(f.sent, sent{To: to, Text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeDelivery) SendPhoto(_ context.Context, to kit.ChatTarget, url, caption string) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.sent = append(f.sent, sent{To: to, URL: url, Caption: caption})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeDelivery) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type fakeClient struct {
	mu    sync.Mutex
	items []booru.Item
	reqs  []booru.FetchRequest
}

func (f *fakeClient) Fetch(_ context.Context, req booru.FetchRequest) ([]booru.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return append([]booru.Item(nil), f.items...), nil
}

type fakeMedia struct {
	item booru.Item
	err  error
}

func (f fakeMedia) Random(context.Context) (booru.Item, error) { return f.item, f.err }

type auditStore struct {
	storage.Store
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *auditStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

func (a *auditStore) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	svc      *Service
	delivery *fakeDelivery
	store    *auditStore
	client   *fakeClient
	cache    *cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := &fakeClient{items: []booru.Item{
		{Provider: booru.Yandere, RemoteID: "1", FileURL: "https://files.yande.re/1.jpg"},
		{Provider: booru.Yandere, RemoteID: "2", FileURL: "https://files.yande.re/2.jpg"},
	}}
	bl := blacklist.New(nil, logx.Nop())
	c := cache.New(cache.Config{Capacity: 100})
	orch := search.New(map[booru.ID]booru.Client{booru.Yandere: client}, bl, nil,
		search.Config{ProviderTimeout: time.Second}, logx.Nop())
	reg := recurring.New(recurring.Config{MinInterval: time.Second, TickTimeout: time.Second}, logx.Nop())
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	d := &fakeDelivery{}
	st := &auditStore{}
	svc := New(Deps{
		Search:    orch,
		Blacklist: bl,
		Cache:     c,
		Recurring: reg,
		Delivery:  d,
		Store:     st,
		Media: map[booru.MediaKind]MediaSource{
			booru.MediaBoobs: fakeMedia{item: booru.Item{Provider: booru.OBoobs, RemoteID: "b", FileURL: "http://media.oboobs.ru/b.jpg"}},
			booru.MediaButts: fakeMedia{err: booru.ErrEmpty},
		},
	}, logx.Nop())
	return &fixture{svc: svc, delivery: d, store: st, client: client, cache: c}
}

func TestDeliverSendsPhoto(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	to := kit.ChatTarget{ChatID: 5, ThreadID: 2}
	item := booru.Item{Provider: booru.Danbooru, RemoteID: "9", FileURL: "https://cdn.donmai.us/9.png"}

	require.NoError(t, f.svc.Deliver(context.Background(), to, item, Caption(item, "")))
	got := f.delivery.all()
	require.Len(t, got, 1)
	assert.Equal(t, to, got[0].To)
	assert.Equal(t, item.FileURL, got[0].URL)
	assert.Equal(t, "danbooru #9", got[0].Caption)

	boom := errors.New("chat not found")
	f.delivery.err = boom
	assert.ErrorIs(t, f.svc.Deliver(context.Background(), to, item, ""), boom)
}

func TestDeliverLinksJoinsURLs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	items := []booru.Item{{FileURL: "https://a/1"}, {FileURL: "https://b/2"}}
	require.NoError(t, f.svc.DeliverLinks(context.Background(), kit.ChatTarget{ChatID: 1}, items))
	got := f.delivery.all()
	require.Len(t, got, 1)
	assert.Equal(t, "https://a/1\n\nhttps://b/2", got[0].Text)
}

func TestMedia(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.svc.Media(ctx, booru.MediaBoobs)
	require.NoError(t, err)
	assert.Equal(t, "b", item.RemoteID)

	_, err = f.svc.Media(ctx, booru.MediaButts)
	assert.ErrorIs(t, err, search.ErrNotFound)

	_, err = f.svc.Media(ctx, booru.MediaKind("feet"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSearchProviderAndDedup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	q := search.Query{Tags: []string{"cat"}, Origin: 1}

	_, err := f.svc.SearchProvider(ctx, booru.ID(99), q)
	assert.ErrorIs(t, err, booru.ErrUnknownProvider)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		item, err := f.svc.SearchProvider(ctx, booru.Yandere, q)
		require.NoError(t, err)
		seen[item.RemoteID] = true
	}
	assert.Len(t, seen, 2)
	_, err = f.svc.SearchProvider(ctx, booru.Yandere, q)
	assert.ErrorIs(t, err, search.ErrNotFound)

	assert.Equal(t, 2, f.svc.ClearCache(ctx, Actor{ID: 42}, kit.ChatTarget{ChatID: 1}))
	assert.Equal(t, 0, f.cache.Len())
	_, err = f.svc.SearchProvider(ctx, booru.Yandere, q)
	assert.NoError(t, err)
	assert.Contains(t, f.store.actions(), "cache_clear")
}

func TestBatchUsesConfiguredProviders(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	assert.Equal(t, []booru.ID{booru.Gelbooru, booru.Danbooru, booru.Konachan, booru.Yandere}, f.svc.BatchProviders())

	f.svc.SetBatchProviders([]booru.ID{booru.Yandere})
	items, err := f.svc.Batch(context.Background(), search.Query{Origin: 3})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, booru.Yandere, items[0].Provider)
}

func TestHentaiTickPicksOneTagChoice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.intn = func(n int) int { return n - 1 }
	to := kit.ChatTarget{ChatID: 77}

	job, err := f.svc.jobFor(recurring.KindHentai, to)
	require.NoError(t, err)
	require.NoError(t, job(context.Background(), recurring.Tick{Tags: []string{"cat", "Fox Girl"}}))

	f.client.mu.Lock()
	req := f.client.reqs[len(f.client.reqs)-1]
	f.client.mu.Unlock()
	assert.Equal(t, []string{"fox", "girl"}, req.Tags)
	assert.True(t, req.Explicit)

	got := f.delivery.all()
	require.Len(t, got, 1)
	assert.Equal(t, to, got[0].To)
	assert.Equal(t, "tag: Fox Girl", got[0].Caption)
}

func TestHentaiTickNotFoundIsQuiet(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.svc.ToggleBlacklist(context.Background(), Actor{}, 77, "cat")
	require.NoError(t, err)

	job, err := f.svc.jobFor(recurring.KindHentai, kit.ChatTarget{ChatID: 77})
	require.NoError(t, err)
	assert.NoError(t, job(context.Background(), recurring.Tick{Tags: []string{"cat"}}))
	assert.Empty(t, f.delivery.all())
}

func TestStartRecurringDeliversMedia(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	to := kit.ChatTarget{ChatID: 11}

	ok, err := f.svc.StartRecurring(ctx, Actor{ID: 1}, to, recurring.KindBoobs, 5*time.Millisecond, nil)
	require.NoError(t, err)
	assert.False(t, ok, "intervals below the minimum are ignored")

	ok, err = f.svc.StartRecurring(ctx, Actor{ID: 1}, to, recurring.KindBoobs, time.Second, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, f.svc.ListRecurring(), 1)

	require.Eventually(t, func() bool { return len(f.delivery.all()) > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "http://media.oboobs.ru/b.jpg", f.delivery.all()[0].URL)

	assert.True(t, f.svc.StopRecurring(ctx, Actor{ID: 1}, to, recurring.KindBoobs))
	assert.False(t, f.svc.StopRecurring(ctx, Actor{ID: 1}, to, recurring.KindBoobs))
	assert.Equal(t, []string{"recurring_start", "recurring_stop"}, f.store.actions())
}

func TestStartRecurringUnknownKind(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.svc.StartRecurring(context.Background(), Actor{}, kit.ChatTarget{ChatID: 1}, recurring.Kind("feet"), time.Minute, nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestToggleBlacklistAudits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	actor := Actor{ID: 9, Username: "op"}

	added, err := f.svc.ToggleBlacklist(ctx, actor, 100, " Gore ")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"gore"}, f.svc.ListBlacklist(100))

	added, err = f.svc.ToggleBlacklist(ctx, actor, 100, "gore")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, f.svc.ListBlacklist(100))

	assert.Equal(t, []string{"blacklist_add", "blacklist_remove"}, f.store.actions())
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Equal(t, "gore", f.store.entries[0].Target)
	assert.Equal(t, "op", f.store.entries[0].ActorUsername)
	assert.Equal(t, int64(100), f.store.entries[0].ChatID)
}

type failingTagStore struct {
	auditStore
}

func (f *failingTagStore) AddBlacklistTag(context.Context, int64, string) error {
	return errors.New("disk full")
}

func TestToggleBlacklistAuditsFailedAdd(t *testing.T) {
	t.Parallel()
	st := &failingTagStore{}
	orch := search.New(map[booru.ID]booru.Client{}, nil, nil, search.Config{}, logx.Nop())
	svc := New(Deps{Search: orch, Blacklist: blacklist.New(st, logx.Nop()), Store: st}, logx.Nop())

	added, err := svc.ToggleBlacklist(context.Background(), Actor{ID: 9}, 100, "gore")
	require.Error(t, err)
	assert.False(t, added)
	assert.Empty(t, svc.ListBlacklist(100))

	st.mu.Lock()
	defer st.mu.Unlock()
	require.Len(t, st.entries, 1)
	assert.Equal(t, "blacklist_add", st.entries[0].Action)
	assert.NotEmpty(t, st.entries[0].Error)
}
