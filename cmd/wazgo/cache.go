package main

import "github.com/wazgo/wazgo"

// newDirCache builds a wazgo.Cache backed by dir, version-namespaced by
// wazgo.Cache itself so binaries built from different wazgo versions never
// collide in the same directory.
func newDirCache(dir string) (wazgo.Cache, error) {
	cache := wazgo.NewCache()
	if err := cache.WithCompilationCacheDirName(dir); err != nil {
		return nil, err
	}
	return cache, nil
}
