package credentials

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// KeyPool is an immutable key list with an atomic round-robin cursor and
// a run-scoped set of keys the provider rejected.
type KeyPool struct {
	keys   []string
	cursor atomic.Uint64

	mu      sync.Mutex
	invalid map[string]struct{}
}

// NewKeyPool trims and deduplicates keys.
func NewKeyPool(keys []string) *KeyPool {
	return &KeyPool{keys: normalizeKeys(keys), invalid: make(map[string]struct{})}
}

// Next returns keys[cursor++ mod len], or "" when the pool is empty.
func (k *KeyPool) Next() string {
	if k == nil || len(k.keys) == 0 {
		return ""
	}
	n := k.cursor.Add(1) - 1
	return k.keys[n%uint64(len(k.keys))]
}

// Keys returns a copy of every key in configured order.
func (k *KeyPool) Keys() []string {
	if k == nil {
		return nil
	}
	return append([]string(nil), k.keys...)
}

func (k *KeyPool) Len() int {
	if k == nil {
		return 0
	}
	return len(k.keys)
}

// MarkInvalid excludes key from every later rotation of this run.
func (k *KeyPool) MarkInvalid(key string) {
	k.mu.Lock()
	k.invalid[key] = struct{}{}
	k.mu.Unlock()
}

func (k *KeyPool) Invalid(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.invalid[key]
	return ok
}

// Valid returns the keys not marked invalid, in configured order.
func (k *KeyPool) Valid() []string {
	if k == nil {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, 0, len(k.keys))
	for _, key := range k.keys {
		if _, bad := k.invalid[key]; !bad {
			out = append(out, key)
		}
	}
	return out
}

// Pool holds every configured account grouped by provider.
type Pool struct {
	order      []string
	byName     map[string]Credential
	byProvider map[string][]Credential
	cursors    map[string]*atomic.Uint64
	accountKey map[string]*KeyPool
	providerKs map[string]*KeyPool
}

// NewPool validates the records; names must be unique across providers.
func NewPool(creds []Credential) (*Pool, error) {
	p := &Pool{
		byName:     make(map[string]Credential, len(creds)),
		byProvider: make(map[string][]Credential),
		cursors:    make(map[string]*atomic.Uint64),
		accountKey: make(map[string]*KeyPool, len(creds)),
		providerKs: make(map[string]*KeyPool),
	}
	providerTokens := make(map[string][]string)
	for _, c := range creds {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := p.byName[c.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, c.Name)
		}
		c.Tokens = append([]string(nil), c.Tokens...)
		p.byName[c.Name] = c
		p.order = append(p.order, c.Name)
		p.accountKey[c.Name] = NewKeyPool(c.Tokens)
		if !c.Enabled {
			continue
		}
		p.byProvider[c.Provider] = append(p.byProvider[c.Provider], c)
		providerTokens[c.Provider] = append(providerTokens[c.Provider], c.Tokens...)
		if _, ok := p.cursors[c.Provider]; !ok {
			p.cursors[c.Provider] = new(atomic.Uint64)
		}
	}
	for provider, tokens := range providerTokens {
		p.providerKs[provider] = NewKeyPool(tokens)
	}
	return p, nil
}

// All returns the enabled accounts of provider in configured order.
func (p *Pool) All(provider string) []Credential {
	src := p.byProvider[provider]
	out := make([]Credential, len(src))
	copy(out, src)
	return out
}

// Next returns the enabled accounts of provider round robin.
func (p *Pool) Next(provider string) (Credential, bool) {
	src := p.byProvider[provider]
	if len(src) == 0 {
		return Credential{}, false
	}
	n := p.cursors[provider].Add(1) - 1
	return src[n%uint64(len(src))], true
}

// Lookup returns the account called name, enabled or not.
func (p *Pool) Lookup(name string) (Credential, bool) {
	c, ok := p.byName[name]
	return c, ok
}

// Names lists every configured account in configured order.
func (p *Pool) Names() []string {
	return append([]string(nil), p.order...)
}

// Keys returns the KeyPool of account name, nil when unknown.
func (p *Pool) Keys(name string) *KeyPool {
	return p.accountKey[name]
}

// Reordered moves the provider's due key to the front of list. The rest
// keep their relative order. Lists that do not contain the due key are
// returned unchanged.
func (p *Pool) Reordered(provider string, list []string) []string {
	out := append([]string(nil), list...)
	due := p.providerKs[provider].Next()
	if due == "" {
		return out
	}
	for i, key := range out {
		if key != due {
			continue
		}
		copy(out[1:i+1], out[0:i])
		out[0] = due
		break
	}
	return out
}
