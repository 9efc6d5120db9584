// Package scripts implements the Lua scripting boundary: a SHA-1-keyed
// compiled script cache, a name index, and a metadata sidecar file, run
// against host functions bound as ordinary Go closures rather than
// unsafe pointers.
package scripts

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

var (
	// ErrNotFound is returned when a name or SHA does not resolve to a
	// registered script.
	ErrNotFound = errors.New("scripts: not found")
	// ErrCompile wraps a Lua compilation failure.
	ErrCompile = errors.New("scripts: compile error")
	// ErrRuntime wraps a Lua runtime failure during execution.
	ErrRuntime = errors.New("scripts: runtime error")
)

// Meta describes one registered script.
type Meta struct {
	SHA1 string
	Name string
	Desc string
}

// Store holds compiled scripts, keyed by their SHA-1 hex digest, plus a
// name -> sha1 alias index and a sidecar file recording metadata.
type Store struct {
	mu       sync.RWMutex
	sidecar  string
	compiled map[string]*lua.FunctionProto // sha1 -> compiled prototype
	meta     map[string]Meta               // sha1 -> meta
	names    map[string]string             // name -> sha1
}

// Open loads any previously registered script metadata from the
// sidecar file at path (one "sha1\tname\tdescription" line per script).
// Missing files are treated as an empty store. Script source is not
// persisted; entries whose function bodies were only registered
// in-process do not survive a restart unless re-registered by the
// caller (mirroring the "compile on first eval_register call" behavior
// scripts are grounded on).
func Open(path string) (*Store, error) {
	s := &Store{
		sidecar:  path,
		compiled: make(map[string]*lua.FunctionProto),
		meta:     make(map[string]Meta),
		names:    make(map[string]string),
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scripts: open sidecar: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 2 {
			continue
		}
		m := Meta{SHA1: parts[0], Name: parts[1]}
		if len(parts) == 3 {
			m.Desc = parts[2]
		}
		s.meta[m.SHA1] = m
		if m.Name != "" {
			s.names[m.Name] = m.SHA1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scripts: read sidecar: %w", err)
	}
	return s, nil
}

// Register compiles src if it has not been seen before, and records or
// updates its metadata under name/desc. The registered SHA-1 hex
// digest is always returned, whether or not this call performed a
// fresh compile.
func (s *Store) Register(src, name, desc string) (string, error) {
	sum := sha1.Sum([]byte(src))
	sha := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.compiled[sha]; !ok {
		proto, err := compile(src, sha)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCompile, err)
		}
		s.compiled[sha] = proto
	}

	if name == "" {
		name = sha
	}
	s.meta[sha] = Meta{SHA1: sha, Name: name, Desc: desc}
	s.names[name] = sha

	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return sha, nil
}

// compile parses src into a Lua function prototype without executing
// it, so registration never runs untrusted top-level side effects.
func compile(src, chunkName string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(src), chunkName)
	if err != nil {
		return nil, err
	}
	proto, err := lua.Compile(chunk, chunkName)
	if err != nil {
		return nil, err
	}
	return proto, nil
}

// resolveLocked maps a name-or-sha argument to a stored SHA-1. Caller
// holds s.mu.
func (s *Store) resolveLocked(nameOrSHA string) (string, bool) {
	if _, ok := s.compiled[nameOrSHA]; ok {
		return nameOrSHA, true
	}
	if sha, ok := s.names[nameOrSHA]; ok {
		return sha, true
	}
	return "", false
}

// Host exposes the GET/SET/DEL primitives a running script may call
// back into the engine with. It is defined here, rather than in the
// engine package, so scripts stays free of an import cycle; the engine
// constructs a Host bound to itself before calling Run.
type Host struct {
	Get func(key string) (string, bool)
	Set func(key, value string) error
	Del func(key string) error
}

// Run executes the script identified by nameOrSHA against keys, args,
// and the given host bindings. It returns the script's single return
// value rendered as a string (empty string for nil/no return).
func (s *Store) Run(nameOrSHA string, keys, args []string, host Host) (string, error) {
	s.mu.RLock()
	sha, ok := s.resolveLocked(nameOrSHA)
	var proto *lua.FunctionProto
	if ok {
		proto = s.compiled[sha]
	}
	s.mu.RUnlock()

	if !ok {
		return "", ErrNotFound
	}

	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("GET", L.NewFunction(func(l *lua.LState) int {
		key := l.CheckString(1)
		v, found := host.Get(key)
		if !found {
			l.Push(lua.LString(""))
			return 1
		}
		l.Push(lua.LString(v))
		return 1
	}))
	L.SetGlobal("SET", L.NewFunction(func(l *lua.LState) int {
		key := l.CheckString(1)
		val := l.CheckString(2)
		if err := host.Set(key, val); err != nil {
			l.RaiseError("SET failed: %v", err)
		}
		return 0
	}))
	L.SetGlobal("DEL", L.NewFunction(func(l *lua.LState) int {
		key := l.CheckString(1)
		if err := host.Del(key); err != nil {
			l.RaiseError("DEL failed: %v", err)
		}
		return 0
	}))

	keysTable := L.NewTable()
	for i, k := range keys {
		keysTable.RawSetInt(i+1, lua.LString(k))
	}
	L.SetGlobal("KEYS", keysTable)

	argvTable := L.NewTable()
	for i, a := range args {
		argvTable.RawSetInt(i+1, lua.LString(a))
	}
	L.SetGlobal("ARGV", argvTable)

	fn := L.NewFunctionFromProto(proto)
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	if ret == lua.LNil {
		return "", nil
	}
	return ret.String(), nil
}

// List returns every registered script's metadata, sorted by name.
func (s *Store) List() []Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Meta, 0, len(s.meta))
	for _, m := range s.meta {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Rename points name oldName's SHA at newName instead, updating both
// the alias index and the stored metadata.
func (s *Store) Rename(oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sha, ok := s.names[oldName]
	if !ok {
		return ErrNotFound
	}
	delete(s.names, oldName)
	s.names[newName] = sha

	m := s.meta[sha]
	m.Name = newName
	s.meta[sha] = m

	return s.saveLocked()
}

// Remove drops a script by name or SHA, including its compiled
// prototype and metadata.
func (s *Store) Remove(nameOrSHA string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sha, ok := s.resolveLocked(nameOrSHA)
	if !ok {
		return ErrNotFound
	}

	if m, ok := s.meta[sha]; ok && m.Name != "" {
		delete(s.names, m.Name)
	}
	delete(s.compiled, sha)
	delete(s.meta, sha)

	return s.saveLocked()
}

// saveLocked rewrites the sidecar file from the current metadata.
// Caller holds s.mu.
func (s *Store) saveLocked() error {
	tmp := s.sidecar + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("scripts: write sidecar: %w", err)
	}

	w := bufio.NewWriter(f)
	names := make([]string, 0, len(s.meta))
	for sha := range s.meta {
		names = append(names, sha)
	}
	sort.Strings(names)
	for _, sha := range names {
		m := s.meta[sha]
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.SHA1, m.Name, m.Desc)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("scripts: write sidecar: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("scripts: sync sidecar: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("scripts: close sidecar: %w", err)
	}
	return os.Rename(tmp, s.sidecar)
}
