package ox

import (
	"container/list"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/blake2b"
)

// cacheEntry is one loaded-and-fingerprinted file held by FileLoader.
type cacheEntry struct {
	path        string
	content     string
	fingerprint [32]byte
	sizeBytes   int64
	lruElem     *list.Element
}

// FileLoader reads `.ox` source files with an LRU-bounded in-memory cache
// keyed by canonical path, fingerprinting each file's content with
// blake2b so callers can cheaply detect a no-op reload (spec.md §4.10
// "file loading and caching").
//
// Grounded on pongo2's TemplateSet caching (_examples/flosch-pongo2/
// template_sets.go maintains a template cache keyed by resolved name);
// the LRU eviction and size accounting are new, reaching for
// golang.org/x/crypto/blake2b and github.com/fsnotify/fsnotify per
// SPEC_FULL.md's domain-stack wiring rather than inventing an ad hoc
// hashing/watching scheme.
type FileLoader struct {
	mu sync.Mutex

	maxFileSize           int64
	maxCacheSizeBytes     int64
	currentCacheSizeBytes int64
	enableCacheEviction   bool

	entries map[string]*cacheEntry
	lru     *list.List // front = most recently used

	watcher *fsnotify.Watcher
	onChange func(path string)
}

func newFileLoader(maxFileSize, maxCacheSize int64, enableEviction bool) *FileLoader {
	return &FileLoader{
		maxFileSize:         maxFileSize,
		maxCacheSizeBytes:   maxCacheSize,
		enableCacheEviction: enableEviction,
		entries:             make(map[string]*cacheEntry),
		lru:                 list.New(),
	}
}

// Load reads path, serving from cache when the file is already loaded.
func (fl *FileLoader) Load(path string) (string, error) {
	fl.mu.Lock()
	if e, ok := fl.entries[path]; ok {
		fl.lru.MoveToFront(e.lruElem)
		fl.mu.Unlock()
		return e.content, nil
	}
	fl.mu.Unlock()
	return fl.reload(path)
}

// ReloadFile bypasses the cache unconditionally, re-reading from disk and
// replacing any cached entry — used by `OXProject.reloadFile` and by the
// fsnotify watch loop.
func (fl *FileLoader) ReloadFile(path string) (string, error) {
	return fl.reload(path)
}

func (fl *FileLoader) reload(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", newErr(KindProjectError, "FileNotFound", Location{File: path}, err)
	}
	if fl.maxFileSize > 0 && info.Size() > fl.maxFileSize {
		return "", newErrf(KindProjectError, "FileTooLarge", Location{File: path},
			"file %q is %d bytes, exceeds maxFileSize %d", path, info.Size(), fl.maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", newErr(KindProjectError, "FileNotFound", Location{File: path}, err)
	}
	content := string(data)
	fp := blake2b.Sum256(data)

	fl.mu.Lock()
	defer fl.mu.Unlock()

	if old, exists := fl.entries[path]; exists {
		fl.currentCacheSizeBytes -= old.sizeBytes
		fl.lru.Remove(old.lruElem)
		delete(fl.entries, path)
	}

	entry := &cacheEntry{path: path, content: content, fingerprint: fp, sizeBytes: info.Size()}
	entry.lruElem = fl.lru.PushFront(entry)
	fl.entries[path] = entry
	fl.currentCacheSizeBytes += entry.sizeBytes

	if err := fl.evictIfNeeded(); err != nil {
		return "", err
	}
	return content, nil
}

// evictIfNeeded drops least-recently-used entries until the cache is back
// under maxCacheSizeBytes, or fails with CacheLimitExceeded when eviction
// is disabled and the limit is still over budget.
func (fl *FileLoader) evictIfNeeded() error {
	if fl.maxCacheSizeBytes <= 0 || fl.currentCacheSizeBytes <= fl.maxCacheSizeBytes {
		return nil
	}
	if !fl.enableCacheEviction {
		return newErrf(KindProjectError, "CacheLimitExceeded", Location{},
			"cache size %d exceeds limit %d and eviction is disabled", fl.currentCacheSizeBytes, fl.maxCacheSizeBytes)
	}
	for fl.currentCacheSizeBytes > fl.maxCacheSizeBytes {
		back := fl.lru.Back()
		if back == nil {
			break
		}
		e := back.Value.(*cacheEntry)
		fl.lru.Remove(back)
		delete(fl.entries, e.path)
		fl.currentCacheSizeBytes -= e.sizeBytes
	}
	return nil
}

// Fingerprint returns the cached content's blake2b digest, or false if the
// path has not been loaded.
func (fl *FileLoader) Fingerprint(path string) ([32]byte, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	e, ok := fl.entries[path]
	if !ok {
		return [32]byte{}, false
	}
	return e.fingerprint, true
}

// LoadedFiles lists every currently cached canonical path.
func (fl *FileLoader) LoadedFiles() []string {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	out := make([]string, 0, len(fl.entries))
	for p := range fl.entries {
		out = append(out, p)
	}
	return out
}

// ClearCache drops every cached entry.
func (fl *FileLoader) ClearCache() {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.entries = make(map[string]*cacheEntry)
	fl.lru = list.New()
	fl.currentCacheSizeBytes = 0
}

// Watch enables fsnotify-based cache invalidation for every currently
// loaded file's directory (config.watch, SPEC_FULL.md domain stack); a
// write event for a cached path triggers onChange so OXProject can
// re-parse it. Watch is opt-in: most parses are one-shot CLI/CI
// invocations with nothing to watch.
func (fl *FileLoader) Watch(onChange func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return newErr(KindProjectError, "WatchUnavailable", Location{}, err)
	}
	fl.mu.Lock()
	fl.watcher = w
	fl.onChange = onChange
	dirs := make(map[string]bool)
	for p := range fl.entries {
		dirs[filepath.Dir(p)] = true
	}
	fl.mu.Unlock()

	for d := range dirs {
		if err := w.Add(d); err != nil {
			return newErr(KindProjectError, "WatchUnavailable", Location{File: d}, err)
		}
	}

	go fl.watchLoop()
	return nil
}

func (fl *FileLoader) watchLoop() {
	for {
		select {
		case ev, ok := <-fl.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fl.mu.Lock()
			_, tracked := fl.entries[ev.Name]
			cb := fl.onChange
			fl.mu.Unlock()
			if tracked && cb != nil {
				if _, err := fl.reload(ev.Name); err == nil {
					cb(ev.Name)
				}
			}
		case _, ok := <-fl.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher, if one was started.
func (fl *FileLoader) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.watcher != nil {
		return fl.watcher.Close()
	}
	return nil
}
