package booru

import "fmt"

var constructors = map[ID]func(Options) Client{
	Safebooru:  newSafebooru,
	E621:       newE621,
	Derpibooru: newDerpibooru,
	Rule34:     newRule34,
	Gelbooru:   newGelbooru,
	Konachan:   newKonachan,
	Yandere:    newYandere,
	Danbooru:   newDanbooru,
}

// NewClient builds the HTTP client for one registered provider.
func NewClient(id ID, opt Options) (Client, error) {
	ctor, ok := constructors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProvider, int(id))
	}
	return ctor(opt), nil
}

// NewClients builds a client for every registered provider. optsFor may
// customize options per provider (credentials, base url overrides).
func NewClients(base Options, optsFor func(ID, Options) Options) map[ID]Client {
	out := make(map[ID]Client, len(table))
	for _, d := range table {
		opt := base
		if optsFor != nil {
			opt = optsFor(d.ID, opt)
		}
		c, err := NewClient(d.ID, opt)
		if err != nil {
			continue
		}
		out[d.ID] = c
	}
	return out
}
