package suites

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"

	"github.com/launchdarkly/spec-harness/framework/ldspec"
	m "github.com/launchdarkly/spec-harness/framework/matchers"
)

type keyValueStore interface {
	Get(key string) (string, bool)
	Put(key, value string)
	Delete(key string)
	KeysWithPrefix(prefix string) []string
}

type mapStore struct {
	lock  sync.RWMutex
	items map[string]string
}

func newMapStore() *mapStore { return &mapStore{items: make(map[string]string)} }

func (s *mapStore) Get(key string) (string, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *mapStore) Put(key, value string) {
	s.lock.Lock()
	s.items[key] = value
	s.lock.Unlock()
}

func (s *mapStore) Delete(key string) {
	s.lock.Lock()
	delete(s.items, key)
	s.lock.Unlock()
}

func (s *mapStore) KeysWithPrefix(prefix string) []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	var ret []string
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			ret = append(ret, k)
		}
	}
	sort.Strings(ret)
	return ret
}

type syncMapStore struct {
	items sync.Map
}

func (s *syncMapStore) Get(key string) (string, bool) {
	v, ok := s.items.Load(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (s *syncMapStore) Put(key, value string) { s.items.Store(key, value) }

func (s *syncMapStore) Delete(key string) { s.items.Delete(key) }

func (s *syncMapStore) KeysWithPrefix(prefix string) []string {
	var ret []string
	s.items.Range(func(k, _ any) bool {
		if key := k.(string); strings.HasPrefix(key, prefix) {
			ret = append(ret, key)
		}
		return true
	})
	sort.Strings(ret)
	return ret
}

func storeFrom(s *ldspec.Scope) keyValueStore {
	v, ok := s.Get("store")
	if !ok {
		panic("no store in scope")
	}
	return v.(keyValueStore)
}

// Every case uses keys under its own ID, since all cases of a node share one store.
func caseKey(t *ldspec.T, key string) string { return string(t.ID()) + "/" + key }

// storeContract is the behavior every keyValueStore must have. Implementations reuse it as
// their Base and provide the store from before_all.
var storeContract = &ldspec.Def{
	Name:     "StoreContract",
	Package:  "suites",
	Fixture:  true,
	Metadata: ldspec.Metadata{"area": ldvalue.String("storage"), "speed": ldvalue.String("fast")},
	Cases: []ldspec.CaseTemplate{
		{
			Name: "get_returns_put_value",
			Body: func(t *ldspec.T) {
				store, key := storeFrom(t.Scope()), caseKey(t, "a")
				store.Put(key, "1")
				value, ok := store.Get(key)
				t.Require(ok).To(m.BeTrue())
				t.Expect(value).To(m.Equal("1"))
			},
		},
		{
			Name: "get_missing_key",
			Body: func(t *ldspec.T) {
				_, ok := storeFrom(t.Scope()).Get(caseKey(t, "missing"))
				t.Expect(ok).To(m.BeFalse())
			},
		},
		{
			Name: "put_overwrites",
			Body: func(t *ldspec.T) {
				store, key := storeFrom(t.Scope()), caseKey(t, "a")
				store.Put(key, "1")
				store.Put(key, "2")
				value, _ := store.Get(key)
				t.Expect(value).To(m.Equal("2"))
			},
		},
		{
			Name: "delete_removes_key",
			Body: func(t *ldspec.T) {
				store, key := storeFrom(t.Scope()), caseKey(t, "a")
				store.Put(key, "1")
				store.Delete(key)
				_, ok := store.Get(key)
				t.Expect(ok).To(m.BeFalse())
				store.Delete(key)
			},
		},
		{
			Name: "lists_keys_by_prefix",
			Body: func(t *ldspec.T) {
				store := storeFrom(t.Scope())
				for _, k := range []string{"b", "a", "c"} {
					store.Put(caseKey(t, k), k)
				}
				t.Expect(store.KeysWithPrefix(caseKey(t, ""))).To(m.Equal([]string{
					caseKey(t, "a"), caseKey(t, "b"), caseKey(t, "c"),
				}))
			},
		},
		{
			Name: "concurrent_puts",
			Body: func(t *ldspec.T) {
				store := storeFrom(t.Scope())
				var group errgroup.Group
				for i := 0; i < 20; i++ {
					key := caseKey(t, fmt.Sprintf("k%02d", i))
					group.Go(func() error {
						store.Put(key, "x")
						return nil
					})
				}
				_ = group.Wait()
				assert.Len(t, store.KeysWithPrefix(caseKey(t, "")), 20)
			},
		},
	},
}

var mapStoreSpec = &ldspec.Def{
	Name:    "MapStore",
	Package: "suites",
	Doc:     "the store contract against a mutex-guarded map",
	Base:    storeContract,
	BeforeAll: func(s *ldspec.Scope) error {
		s.Set("store", newMapStore())
		return nil
	},
}

var syncMapStoreSpec = &ldspec.Def{
	Name:    "SyncMapStore",
	Package: "suites",
	Doc:     "the store contract against sync.Map",
	Base:    storeContract,
	BeforeAll: func(s *ldspec.Scope) error {
		s.Set("store", &syncMapStore{})
		return nil
	},
}
