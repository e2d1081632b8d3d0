package cache_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/catalogops/cache"
)

func ExampleNewMemoryCache() {
	c := cache.NewMemoryCache(2)
	ctx := context.Background()

	_ = c.Set(ctx, "itemCount:a", 1, time.Minute)
	_ = c.Set(ctx, "itemCount:b", 2, time.Minute)
	_ = c.Set(ctx, "itemCount:c", 3, time.Minute)

	_, ok := c.Get(ctx, "itemCount:a")
	fmt.Println("oldest kept:", ok)
	fmt.Println("keys:", c.Keys())
	// Output:
	// oldest kept: false
	// keys: [itemCount:b itemCount:c]
}

func ExampleDefaultKeyer_Key() {
	keyer := cache.NewDefaultKeyer()

	key, _ := keyer.Key(cache.NamespaceSearch, map[string]any{
		"query":     "dune",
		"libraryId": "lib1",
	})
	fmt.Println(key)
	// Output:
	// search:{"libraryId":"lib1","query":"dune"}
}

func ExampleMemoryCache_Invalidate() {
	c := cache.NewMemoryCache(10)
	ctx := context.Background()

	_ = c.Set(ctx, "progress:1", "a", time.Minute)
	_ = c.Set(ctx, "progress:2", "b", time.Minute)
	_ = c.Set(ctx, "search:progress", "c", time.Minute)

	removed := c.Invalidate(ctx, cache.PrefixMatcher(cache.NamespaceProgress))
	fmt.Println("removed:", removed)
	fmt.Println("keys:", c.Keys())
	// Output:
	// removed: 2
	// keys: [search:progress]
}
