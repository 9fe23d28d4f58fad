// Package store implements the tape store: recursive discovery of
// on-disk tapes, an in-memory match-key index, atomic writes under
// cross-process file locks, and per-session usage accounting.
package store

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/termvcr/termvcr/internal/match"
	"github.com/termvcr/termvcr/internal/tape"
	"github.com/termvcr/termvcr/internal/termvcrerr"
)

// indexEntry is the runtime-only tape index value.
type indexEntry struct {
	tapePath string
	exchange int
}

// Store is a tape store rooted at a directory.
type Store struct {
	root      string
	rules     match.Rules
	mu        sync.RWMutex
	index     map[string]indexEntry
	tapes     map[string]*tape.Tape // path -> loaded tape
	usedMu    sync.Mutex
	used      map[string]bool
	newTapes  map[string]bool
}

// Open recursively discovers *.json5 files under root, parses each,
// and builds the in-memory index. Parse and schema errors on
// individual tapes are logged and that tape is skipped; the store
// remains usable.
func Open(root string, rules match.Rules) (*Store, error) {
	s := &Store{
		root:     root,
		rules:    rules,
		index:    map[string]indexEntry{},
		tapes:    map[string]*tape.Tape{},
		used:     map[string]bool{},
		newTapes: map[string]bool{},
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload performs the recursive load and index build described above.
// It replaces the store's index atomically under the write lock, so
// concurrent readers always observe a complete index (never a partial
// rebuild).
func (s *Store) reload() error {
	var paths []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(p) == ".json5" {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("walk tape root: %w", err)
	}
	sort.Strings(paths)

	newIndex := map[string]indexEntry{}
	newTapes := map[string]*tape.Tape{}

	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("termvcr: skipping unreadable tape", "path", p, "error", err)
			continue
		}
		t, err := tape.Decode(p, raw)
		if err != nil {
			slog.Warn("termvcr: skipping invalid tape", "path", p, "error", err)
			continue
		}
		newTapes[p] = t

		for i, ex := range t.Exchanges {
			key := exchangeKey(t, ex, s.rules)
			if existing, ok := newIndex[key]; ok {
				slog.Warn("termvcr: tape index key shadowed by later tape",
					"key", key, "previous", existing.tapePath, "shadowing", p)
			}
			newIndex[key] = indexEntry{tapePath: p, exchange: i}
		}
	}

	s.mu.Lock()
	s.index = newIndex
	s.tapes = newTapes
	s.mu.Unlock()
	return nil
}

func exchangeKey(t *tape.Tape, ex tape.Exchange, rules match.Rules) string {
	var text string
	if ex.Input.Text != nil {
		text = *ex.Input.Text
	}
	ctx := match.Context{
		Program:   t.Meta.Program,
		Argv:      t.Meta.Args,
		Env:       t.Meta.Env,
		Cwd:       t.Meta.Cwd,
		Prompt:    ex.Pre.Prompt,
		InputKind: match.InputKind(ex.Input.Kind),
		InputText: text,
	}
	if ex.Pre.StateHash != nil {
		ctx.StateHash = *ex.Pre.StateHash
	}
	return match.Key(ctx, rules)
}

// Find looks up the exchange for ctx's match key. It marks the
// containing tape path as used on a hit.
func (s *Store) Find(ctx match.Context) (*tape.Tape, *tape.Exchange, bool) {
	key := match.Key(ctx, s.rules)
	s.mu.RLock()
	entry, ok := s.index[key]
	var t *tape.Tape
	if ok {
		t = s.tapes[entry.tapePath]
	}
	s.mu.RUnlock()
	if !ok || t == nil {
		return nil, nil, false
	}
	s.MarkUsed(entry.tapePath)
	return t, &t.Exchanges[entry.exchange], true
}

// HasIdentity reports whether the index contains any exchange whose
// tape matches the session-identity portion of ctx (program + filtered
// argv + filtered env + cwd), independent of prompt/input. Used by the
// transport facade's mode-selection table ("tape exists").
func (s *Store) HasIdentity(ctx match.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tapes {
		identCtx := match.Context{
			Program: t.Meta.Program,
			Argv:    t.Meta.Args,
			Env:     t.Meta.Env,
			Cwd:     t.Meta.Cwd,
		}
		want := match.Context{Program: ctx.Program, Argv: ctx.Argv, Env: ctx.Env, Cwd: ctx.Cwd}
		if match.Key(identCtx, s.rules) == match.Key(want, s.rules) {
			return true
		}
	}
	return false
}

// NearestKeys returns up to n distinct recorded input texts nearest to
// inputText by Levenshtein distance, for tape-miss diagnostics. A line
// input's trailing "\n" or "\r\n" is dropped, as in the match key.
func (s *Store) NearestKeys(inputText string, n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		key  string
		dist int
	}
	var scoredKeys []scored
	for p, t := range s.tapes {
		for _, ex := range t.Exchanges {
			var text string
			if ex.Input.Text != nil {
				text = *ex.Input.Text
			}
			if ex.Input.Kind == tape.InputLine {
				text = strings.TrimSuffix(text, "\r\n")
				text = strings.TrimSuffix(text, "\n")
			}
			scoredKeys = append(scoredKeys, scored{key: text, dist: levenshtein(inputText, text)})
			_ = p
		}
	}
	sort.Slice(scoredKeys, func(i, j int) bool { return scoredKeys[i].dist < scoredKeys[j].dist })
	out := make([]string, 0, n)
	seen := map[string]bool{}
	for _, sk := range scoredKeys {
		if seen[sk.key] {
			continue
		}
		seen[sk.key] = true
		out = append(out, sk.key)
		if len(out) >= n {
			break
		}
	}
	return out
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	m, n := len(ra), len(rb)
	prev := make([]int, n+1)
	cur := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}
	for i := 1; i <= m; i++ {
		cur[0] = i
		for j := 1; j <= n; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			cur[j] = min
		}
		prev, cur = cur, prev
	}
	return prev[n]
}

// MarkUsed records that path was read during this session.
func (s *Store) MarkUsed(path string) {
	s.usedMu.Lock()
	defer s.usedMu.Unlock()
	s.used[path] = true
}

// MarkNew records that path was written during this session.
func (s *Store) MarkNew(path string) {
	s.usedMu.Lock()
	defer s.usedMu.Unlock()
	s.newTapes[path] = true
}

// Summary returns the sorted set of newly created tape paths and the
// sorted set of loaded-but-unused tape paths.
func (s *Store) Summary() (newTapes, unused []string) {
	s.usedMu.Lock()
	for p := range s.newTapes {
		newTapes = append(newTapes, p)
	}
	s.usedMu.Unlock()

	s.mu.RLock()
	for p := range s.tapes {
		if !s.used[p] {
			unused = append(unused, p)
		}
	}
	s.mu.RUnlock()

	sort.Strings(newTapes)
	sort.Strings(unused)
	return newTapes, unused
}

// Root returns the store's tape root directory.
func (s *Store) Root() string { return s.root }

// Exists reports whether a tape already occupies path, relative to
// Root, either on disk or already loaded in memory (a write earlier
// in the same process that hasn't reached a rescan).
func (s *Store) Exists(path string) bool {
	full := filepath.Join(s.root, path)
	s.mu.RLock()
	_, loaded := s.tapes[full]
	s.mu.RUnlock()
	if loaded {
		return true
	}
	_, err := os.Stat(full)
	return err == nil
}

// Tapes returns a snapshot of every loaded tape keyed by its path
// relative to Root, for read-only inspection tools (tapectl summary,
// browse, repl) that need to walk the whole store rather than look up
// a single identity.
func (s *Store) Tapes() map[string]*tape.Tape {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*tape.Tape, len(s.tapes))
	for k, v := range s.tapes {
		if rel, err := filepath.Rel(s.root, k); err == nil {
			k = rel
		}
		out[k] = v
	}
	return out
}

// Write persists t to path under an exclusive advisory file lock,
// using the atomic-rename write pattern. Lock acquisition retries with
// backoff for up to 30s before failing with store-busy.
func (s *Store) Write(path string, t *tape.Tape) error {
	if err := validateRelPath(path); err != nil {
		return err
	}
	fullPath := filepath.Join(s.root, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("create tape directory: %w", err)
	}
	lockPath := fullPath + ".lock"

	lockFile, err := acquireTapeLock(lockPath)
	if err != nil {
		return err
	}
	defer releaseFileLock(lockFile)

	data, err := tape.Encode(t)
	if err != nil {
		return fmt.Errorf("encode tape: %w", err)
	}
	if err := atomicWriteFile(fullPath, data, 0644); err != nil {
		return fmt.Errorf("write tape %s: %w", fullPath, err)
	}

	s.mu.Lock()
	s.tapes[fullPath] = t
	for i, ex := range t.Exchanges {
		key := exchangeKey(t, ex, s.rules)
		s.index[key] = indexEntry{tapePath: fullPath, exchange: i}
	}
	s.mu.Unlock()

	s.MarkNew(fullPath)
	return nil
}

// validateRelPath rejects absolute paths, parent-directory escapes,
// and extensions other than .json5.
func validateRelPath(rel string) error {
	if filepath.IsAbs(rel) {
		return termvcrerr.New(termvcrerr.KindSchemaError, "tape path must be relative: %s", rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return termvcrerr.New(termvcrerr.KindSchemaError, "tape path escapes root: %s", rel)
	}
	if filepath.Ext(clean) != ".json5" {
		return termvcrerr.New(termvcrerr.KindSchemaError, "tape path must end in .json5: %s", rel)
	}
	return nil
}
