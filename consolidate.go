package zarr

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
)

const (
	// ConsolidatedFormat is the version of the .zmetadata layout written
	ConsolidatedFormat = 1
	// DefaultMaxPackSize bounds the size of each consolidated data file
	DefaultMaxPackSize = 100_000_000
	packPrefix         = "_consolidated_"
)

// ConsolidateMetadata gathers every .zarray, .zgroup and .zattrs document in
// store into a root .zmetadata key so readers can load a whole hierarchy in
// one request. Refs recorded by an earlier PackChunks are kept.
func ConsolidateMetadata(store Store) (*ConsolidatedMetadata, error) {
	keys, err := store.Keys("")
	if err != nil {
		return nil, err
	}

	cm := &ConsolidatedMetadata{
		ConsolidatedFormat: ConsolidatedFormat,
		Metadata:           map[string]MetaTyper{},
	}
	if prev, err := readConsolidated(store); err == nil {
		cm.Refs = prev.Refs
	} else if !errors.Is(err, ErrNotfound) {
		return nil, err
	}

	for _, key := range keys {
		mt, ok := KeyMetaType(key)
		if !ok || path.Base(key) != string(mt) {
			continue
		}
		var v MetaTyper
		switch mt {
		case MTArray:
			am := &ArrayMeta{}
			if err := getJSON(store, key, am); err != nil {
				return nil, err
			}
			v = am
		case MTGroup:
			gm := GroupMeta{}
			if err := getJSON(store, key, &gm); err != nil {
				return nil, err
			}
			v = gm
		case MTAttributes:
			attrs := Attributes{}
			if err := getJSON(store, key, &attrs); err != nil {
				return nil, err
			}
			v = attrs
		}
		cm.Metadata[key] = v
	}

	if err := putJSON(store, string(MTMetadata), cm); err != nil {
		return nil, err
	}
	return cm, nil
}

func readConsolidated(store Store) (*ConsolidatedMetadata, error) {
	cm := &ConsolidatedMetadata{}
	if err := getJSON(store, string(MTMetadata), cm); err != nil {
		return nil, err
	}
	return cm, nil
}

func isChunkKey(key string) bool {
	base := path.Base(key)
	switch MetaType(base) {
	case MTArray, MTGroup, MTAttributes, MTMetadata:
		return false
	}
	return !strings.HasPrefix(base, packPrefix)
}

type packItem struct {
	key  string
	data []byte
}

// PackChunks concatenates chunk blobs into "_consolidated_{i}.dat" keys of at
// most maxSize bytes each, so a hierarchy with many small chunks uploads as a
// handful of files. Every packed chunk is recorded in the .zmetadata refs as
// [file, offset, length] and then deleted. A chunk larger than maxSize gets a
// pack of its own. ConsolidateMetadata must have been run first.
//
// Packing is first-fit over chunks sorted largest first.
func PackChunks(store Store, maxSize int64) (*ConsolidatedMetadata, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("max pack size must be positive, got %d", maxSize)
	}
	cm, err := readConsolidated(store)
	if err != nil {
		return nil, fmt.Errorf("packing chunks: %w", err)
	}
	if cm.Refs == nil {
		cm.Refs = map[string]ChunkRef{}
	}

	keys, err := store.Keys("")
	if err != nil {
		return nil, err
	}
	var items []packItem
	nextPack := 0
	for _, key := range keys {
		if strings.HasPrefix(path.Base(key), packPrefix) {
			nextPack++
			continue
		}
		if !isChunkKey(key) {
			continue
		}
		d, err := getBytes(store, key)
		if err != nil {
			return nil, err
		}
		items = append(items, packItem{key: key, data: d})
	}
	if len(items) == 0 {
		return cm, nil
	}

	sort.SliceStable(items, func(i, j int) bool { return len(items[i].data) > len(items[j].data) })

	var (
		packs [][]packItem
		sizes []int64
	)
	for _, it := range items {
		size := int64(len(it.data))
		placed := false
		if size <= maxSize {
			for i := range packs {
				if sizes[i]+size <= maxSize {
					packs[i] = append(packs[i], it)
					sizes[i] += size
					placed = true
					break
				}
			}
		}
		if !placed {
			packs = append(packs, []packItem{it})
			sizes = append(sizes, size)
		}
	}

	for i, pack := range packs {
		name := fmt.Sprintf("%s%d.dat", packPrefix, nextPack+i)
		var buf bytes.Buffer
		for _, it := range pack {
			cm.Refs[it.key] = ChunkRef{File: name, Offset: int64(buf.Len()), Length: int64(len(it.data))}
			buf.Write(it.data)
		}
		if err := store.Put(name, &buf); err != nil {
			return nil, err
		}
	}

	if err := putJSON(store, string(MTMetadata), cm); err != nil {
		return nil, err
	}
	for _, it := range items {
		if err := store.Delete(it.key); err != nil {
			return nil, err
		}
	}
	return cm, nil
}

// RefStore reads a hierarchy whose chunks were packed by PackChunks. Keys
// still present in the wrapped store take precedence over packed copies.
type RefStore struct {
	Store
	lk   sync.RWMutex
	refs map[string]ChunkRef
}

var _ Store = (*RefStore)(nil)

// NewRefStore loads the refs of s's .zmetadata. A store without .zmetadata
// reads exactly like s.
func NewRefStore(s Store) (*RefStore, error) {
	rs := &RefStore{Store: s, refs: map[string]ChunkRef{}}
	cm, err := readConsolidated(s)
	if errors.Is(err, ErrNotfound) {
		return rs, nil
	}
	if err != nil {
		return nil, err
	}
	for k, r := range cm.Refs {
		rs.refs[k] = r
	}
	return rs, nil
}

func (s *RefStore) Type() string { return "RefStore(" + s.Store.Type() + ")" }

func (s *RefStore) Get(key string) (io.ReadCloser, error) {
	f, err := s.Store.Get(key)
	if !errors.Is(err, ErrNotfound) {
		return f, err
	}

	s.lk.RLock()
	ref, ok := s.refs[key]
	s.lk.RUnlock()
	if !ok {
		return nil, err
	}

	pack, err := s.Store.Get(ref.File)
	if err != nil {
		return nil, fmt.Errorf("reading ref %s: %w", key, err)
	}
	if sk, ok := pack.(io.Seeker); ok {
		_, err = sk.Seek(ref.Offset, io.SeekStart)
	} else {
		_, err = io.CopyN(io.Discard, pack, ref.Offset)
	}
	if err != nil {
		pack.Close()
		return nil, fmt.Errorf("reading ref %s: %w", key, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(pack, ref.Length), pack}, nil
}

// Delete forgets packed copies as well as stored keys. Forgotten refs are
// not written back to .zmetadata.
func (s *RefStore) Delete(key string) error {
	err := s.Store.Delete(key)
	s.lk.Lock()
	defer s.lk.Unlock()
	if _, ok := s.refs[key]; ok {
		delete(s.refs, key)
		if errors.Is(err, ErrNotfound) {
			return nil
		}
	}
	return err
}

func (s *RefStore) Keys(prefix string) ([]string, error) {
	keys, err := s.Store.Keys(prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	s.lk.RLock()
	for k := range s.refs {
		if _, ok := seen[k]; !ok && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.lk.RUnlock()
	sort.Strings(keys)
	return keys, nil
}
