package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/quadcache/internal/hash"
)

const (
	diskMagic       uint32 = 0x51434453 // "QCDS"
	diskVersion     uint8  = 1
	diskHeaderSize         = 28
	diskFileExt            = ".qc"
	diskLockStripes        = 64
)

var errCorruptFile = errors.New("cache: corrupt cache file")

// DiskOptions configures a DiskStore.
type DiskOptions struct {
	// Compression applied to stored values.
	Compression Compression

	// MaxSizeBytes bounds the total size of cache files. Least recently used
	// unprotected entries are evicted first. 0 means unbounded.
	MaxSizeBytes int64

	// MaxConcurrentDeletes limits parallel file deletions in
	// RemoveKeysWithPrefix. Defaults to 16.
	MaxConcurrentDeletes int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DiskStore is a persistent Store and Protector keeping one file per key.
//
// File layout (little-endian):
//
//	magic u32 | version u8 | compression u8 | key length u16 |
//	expires at (unix nanos, 0 = never) i64 | raw length u32 |
//	crc32c of stored payload u32 | payload length u32 | key | payload
//
// The index of live keys is kept in memory and rebuilt from the file headers
// when the store is opened. Protection is not persisted.
type DiskStore struct {
	// files serializes renames into and removals of a cache file path.
	// Lock order: files before mu.
	files [diskLockStripes]sync.Mutex

	mu          sync.Mutex
	dir         string
	opts        DiskOptions
	items       map[string]*diskEntry
	lruHead     *diskEntry
	lruTail     *diskEntry
	currentSize int64
	protected   map[string]struct{}
	closed      bool

	hits   atomic.Int64
	misses atomic.Int64
}

type diskEntry struct {
	key        string
	path       string
	size       int64
	expiresAt  time.Time
	next, prev *diskEntry
}

// OpenDiskStore opens or creates a disk store rooted at dir.
func OpenDiskStore(dir string, optFns ...func(o *DiskOptions)) (*DiskStore, error) {
	opts := DiskOptions{
		Compression:          CompressionNone,
		MaxConcurrentDeletes: 16,
		Now:                  time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrentDeletes <= 0 {
		opts.MaxConcurrentDeletes = 16
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", dir, err)
	}

	s := &DiskStore{
		dir:       dir,
		opts:      opts,
		items:     make(map[string]*diskEntry),
		protected: make(map[string]struct{}),
	}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DiskStore) scan() error {
	now := s.opts.Now()
	return filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), "tmp-") {
			_ = os.Remove(path)
			return nil
		}
		if filepath.Ext(path) != diskFileExt {
			return nil
		}

		key, expiresAt, err := readDiskHeader(path)
		if err != nil || expired(now, expiresAt) {
			_ = os.Remove(path)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // vanished while scanning
		}
		s.addToLRU(key, path, info.Size(), expiresAt)
		return nil
	})
}

// Get implements Store.
func (s *DiskStore) Get(_ context.Context, key string) ([]byte, bool) {
	ent, ok := s.live(key, true)
	if !ok {
		s.misses.Add(1)
		return nil, false
	}

	raw, err := os.ReadFile(ent.path)
	if err == nil {
		var value []byte
		value, err = decodeDiskFile(raw, key)
		if err == nil {
			s.hits.Add(1)
			return value, true
		}
	}

	s.mu.Lock()
	if cur, ok := s.items[key]; ok && cur == ent {
		s.removeEntry(ent)
		_ = os.Remove(ent.path)
	}
	s.mu.Unlock()
	s.misses.Add(1)
	return nil, false
}

// Contains implements Store.
func (s *DiskStore) Contains(_ context.Context, key string) bool {
	_, ok := s.live(key, false)
	return ok
}

// Put implements Store.
func (s *DiskStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > 0xFFFF {
		return fmt.Errorf("%w: key length %d", ErrInvalidKey, len(key))
	}

	expiresAt := expiryAt(s.opts.Now(), ttl)
	data, err := encodeDiskFile(key, value, s.opts.Compression, expiresAt)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}

	name := hash.KeyName(key)
	path := filepath.Join(s.dir, name[:2], name+diskFileExt)

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	tmp, err := writeTemp(path, data)
	if err != nil {
		return fmt.Errorf("cache: write %q: %w", key, err)
	}

	lock := s.fileLock(path)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		_ = os.Remove(tmp)
		return ErrClosed
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cache: write %q: %w", key, err)
	}
	if ent, ok := s.items[key]; ok {
		s.removeEntry(ent)
	}
	s.addToLRU(key, path, int64(len(data)), expiresAt)
	s.evict()
	return nil
}

// RemoveKeysWithPrefix implements Store.
func (s *DiskStore) RemoveKeysWithPrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var doomed []*diskEntry
	for key, ent := range s.items {
		if strings.HasPrefix(key, prefix) {
			doomed = append(doomed, ent)
			s.removeEntry(ent)
		}
	}
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrentDeletes)
	for _, ent := range doomed {
		g.Go(func() error {
			return s.removeFile(ent.key, ent.path)
		})
	}
	return g.Wait()
}

// removeFile deletes the file of a key already dropped from the index. The
// file is kept if a concurrent Put has stored the key again.
func (s *DiskStore) removeFile(key, path string) error {
	lock := s.fileLock(path)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	_, stored := s.items[key]
	s.mu.Unlock()
	if stored {
		return nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cache: remove %s: %w", path, err)
	}
	return nil
}

func (s *DiskStore) fileLock(path string) *sync.Mutex {
	return &s.files[xxh3.HashString(path)%diskLockStripes]
}

// Protect implements Protector.
func (s *DiskStore) Protect(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.protected[key] = struct{}{}
	}
}

// Release implements Protector.
func (s *DiskStore) Release(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	for _, key := range keys {
		delete(s.protected, key)
		if ent, ok := s.items[key]; ok && expired(now, ent.expiresAt) {
			s.removeEntry(ent)
			_ = os.Remove(ent.path)
		}
	}
	s.evict()
}

// IsProtected implements Protector.
func (s *DiskStore) IsProtected(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.protected[key]
	return ok
}

// Size returns the total size of the cache files in bytes.
func (s *DiskStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSize
}

// Stats returns the store counters.
func (s *DiskStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	pinned := 0
	for key := range s.protected {
		if _, ok := s.items[key]; ok {
			pinned++
		}
	}
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Entries: len(s.items),
		Pinned:  pinned,
	}
}

// Close marks the store closed. Files stay on disk for the next open.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// live returns the index entry of an unexpired key.
func (s *DiskStore) live(key string, touch bool) (*diskEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}
	ent, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if _, pinned := s.protected[key]; !pinned && expired(s.opts.Now(), ent.expiresAt) {
		s.removeEntry(ent)
		_ = os.Remove(ent.path)
		return nil, false
	}
	if touch {
		s.moveToFront(ent)
	}
	return ent, true
}

// Internal LRU helpers (must hold lock)

func (s *DiskStore) addToLRU(key, path string, size int64, expiresAt time.Time) {
	ent := &diskEntry{
		key:       key,
		path:      path,
		size:      size,
		expiresAt: expiresAt,
	}
	s.items[key] = ent
	s.currentSize += size

	if s.lruHead == nil {
		s.lruHead = ent
		s.lruTail = ent
		return
	}
	ent.next = s.lruHead
	s.lruHead.prev = ent
	s.lruHead = ent
}

func (s *DiskStore) moveToFront(ent *diskEntry) {
	if s.lruHead == ent {
		return
	}

	if ent.prev != nil {
		ent.prev.next = ent.next
	}
	if ent.next != nil {
		ent.next.prev = ent.prev
	}
	if s.lruTail == ent {
		s.lruTail = ent.prev
	}

	ent.next = s.lruHead
	ent.prev = nil
	if s.lruHead != nil {
		s.lruHead.prev = ent
	}
	s.lruHead = ent
	if s.lruTail == nil {
		s.lruTail = ent
	}
}

func (s *DiskStore) removeEntry(ent *diskEntry) {
	if ent.prev != nil {
		ent.prev.next = ent.next
	} else {
		s.lruHead = ent.next
	}
	if ent.next != nil {
		ent.next.prev = ent.prev
	} else {
		s.lruTail = ent.prev
	}
	ent.next, ent.prev = nil, nil

	delete(s.items, ent.key)
	s.currentSize -= ent.size
}

// evict drops least recently used unprotected entries until the size bound holds.
func (s *DiskStore) evict() {
	if s.opts.MaxSizeBytes <= 0 {
		return
	}
	ent := s.lruTail
	for s.currentSize > s.opts.MaxSizeBytes && ent != nil {
		prev := ent.prev
		if _, pinned := s.protected[ent.key]; !pinned {
			s.removeEntry(ent)
			_ = os.Remove(ent.path)
		}
		ent = prev
	}
}

func encodeDiskFile(key string, value []byte, c Compression, expiresAt time.Time) ([]byte, error) {
	payload, applied, err := compress(value, c)
	if err != nil {
		return nil, err
	}
	if uint64(len(value)) > 0xFFFFFFFF {
		return nil, fmt.Errorf("value of %d bytes too large", len(value))
	}

	var expiresNanos int64
	if !expiresAt.IsZero() {
		expiresNanos = expiresAt.UnixNano()
	}

	buf := make([]byte, diskHeaderSize, diskHeaderSize+len(key)+len(payload))
	binary.LittleEndian.PutUint32(buf[0:], diskMagic)
	buf[4] = diskVersion
	buf[5] = uint8(applied)
	binary.LittleEndian.PutUint16(buf[6:], uint16(len(key)))
	binary.LittleEndian.PutUint64(buf[8:], uint64(expiresNanos))
	binary.LittleEndian.PutUint32(buf[16:], uint32(len(value)))
	binary.LittleEndian.PutUint32(buf[20:], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(buf[24:], uint32(len(payload)))
	buf = append(buf, key...)
	buf = append(buf, payload...)
	return buf, nil
}

type diskHeader struct {
	compression Compression
	keyLen      int
	expiresAt   time.Time
	rawLen      int
	crc         uint32
	payloadLen  int
}

func parseDiskHeader(b []byte) (diskHeader, error) {
	if len(b) < diskHeaderSize {
		return diskHeader{}, fmt.Errorf("%w: short header", errCorruptFile)
	}
	if binary.LittleEndian.Uint32(b[0:]) != diskMagic {
		return diskHeader{}, fmt.Errorf("%w: bad magic", errCorruptFile)
	}
	if b[4] != diskVersion {
		return diskHeader{}, fmt.Errorf("%w: unsupported version %d", errCorruptFile, b[4])
	}
	h := diskHeader{
		compression: Compression(b[5]),
		keyLen:      int(binary.LittleEndian.Uint16(b[6:])),
		rawLen:      int(binary.LittleEndian.Uint32(b[16:])),
		crc:         binary.LittleEndian.Uint32(b[20:]),
		payloadLen:  int(binary.LittleEndian.Uint32(b[24:])),
	}
	if nanos := int64(binary.LittleEndian.Uint64(b[8:])); nanos != 0 {
		h.expiresAt = time.Unix(0, nanos)
	}
	return h, nil
}

func readDiskHeader(path string) (string, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", time.Time{}, err
	}
	defer f.Close()

	var hb [diskHeaderSize]byte
	if _, err := io.ReadFull(f, hb[:]); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", errCorruptFile, err)
	}
	h, err := parseDiskHeader(hb[:])
	if err != nil {
		return "", time.Time{}, err
	}
	key := make([]byte, h.keyLen)
	if _, err := io.ReadFull(f, key); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", errCorruptFile, err)
	}
	return string(key), h.expiresAt, nil
}

func decodeDiskFile(b []byte, key string) ([]byte, error) {
	h, err := parseDiskHeader(b)
	if err != nil {
		return nil, err
	}
	if len(b) != diskHeaderSize+h.keyLen+h.payloadLen {
		return nil, fmt.Errorf("%w: size mismatch", errCorruptFile)
	}
	if string(b[diskHeaderSize:diskHeaderSize+h.keyLen]) != key {
		return nil, fmt.Errorf("%w: key mismatch", errCorruptFile)
	}
	payload := b[diskHeaderSize+h.keyLen:]
	if hash.CRC32C(payload) != h.crc {
		return nil, fmt.Errorf("%w: checksum mismatch", errCorruptFile)
	}
	return decompress(payload, h.compression, h.rawLen)
}

// writeTemp writes data to a temporary file next to path and returns its
// name. The caller renames it into place.
func writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}
