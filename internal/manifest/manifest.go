package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/codec"
	"github.com/hupe1980/lexgo/internal/livedocs"
	"github.com/hupe1980/lexgo/internal/segment"
)

const (
	ManifestFilePrefix = "MANIFEST-"
	ManifestFileSuffix = ".bin"
	CurrentFileName    = "CURRENT"
)

// FileName returns the manifest file name of generation gen.
func FileName(gen int64) string {
	return fmt.Sprintf("%s%06d%s", ManifestFilePrefix, gen, ManifestFileSuffix)
}

// ParseFileName returns the generation encoded in a manifest file name.
func ParseFileName(name string) (int64, bool) {
	if !strings.HasPrefix(name, ManifestFilePrefix) || !strings.HasSuffix(name, ManifestFileSuffix) {
		return 0, false
	}
	gen, err := strconv.ParseInt(name[len(ManifestFilePrefix):len(name)-len(ManifestFileSuffix)], 10, 64)
	if err != nil || gen <= 0 {
		return 0, false
	}
	return gen, true
}

// IsIndexFile reports whether name belongs to the index: segment files,
// deletes files, manifests and CURRENT.
func IsIndexFile(name string) bool {
	if name == CurrentFileName {
		return true
	}
	if _, ok := ParseFileName(name); ok {
		return true
	}
	return strings.HasPrefix(name, "_")
}

// SegmentCommitInfo is the per-commit state of one segment.
type SegmentCommitInfo struct {
	Name      string
	ID        uuid.UUID
	Format    string
	DocCount  int
	DelCount  int
	DelGen    int64 // 0 when the segment has no deletes file
	SizeBytes int64
	Files     []string
}

// NewSegmentCommitInfo describes a freshly written segment without deletes.
func NewSegmentCommitInfo(info *segment.Info) SegmentCommitInfo {
	return SegmentCommitInfo{
		Name:      info.Name,
		ID:        info.ID,
		Format:    info.Format,
		DocCount:  info.DocCount,
		SizeBytes: info.SizeBytes,
		Files:     slices.Clone(info.Files),
	}
}

// LiveDocsFile returns the current deletes file, or "" when there is none.
func (s *SegmentCommitInfo) LiveDocsFile() string {
	if s.DelGen == 0 {
		return ""
	}
	return livedocs.FileName(s.Name, s.DelGen)
}

// AllFiles returns the segment files plus the current deletes file.
func (s *SegmentCommitInfo) AllFiles() []string {
	files := slices.Clone(s.Files)
	if f := s.LiveDocsFile(); f != "" {
		files = append(files, f)
	}
	return files
}

// NumLive returns the number of live documents.
func (s *SegmentCommitInfo) NumLive() int { return s.DocCount - s.DelCount }

// DeleteRatio returns the fraction of deleted documents.
func (s *SegmentCommitInfo) DeleteRatio() float64 {
	if s.DocCount == 0 {
		return 0
	}
	return float64(s.DelCount) / float64(s.DocCount)
}

// Clone returns a deep copy.
func (s *SegmentCommitInfo) Clone() SegmentCommitInfo {
	c := *s
	c.Files = slices.Clone(s.Files)
	return c
}

// SegmentInfos is a commit point: the ordered list of segments plus
// bookkeeping.
type SegmentInfos struct {
	Generation int64
	Version    uint64
	Counter    int64
	CreatedAt  time.Time
	UserData   map[string]string
	Segments   []SegmentCommitInfo
}

// New returns an empty, never committed SegmentInfos.
func New() *SegmentInfos {
	return &SegmentInfos{CreatedAt: time.Now()}
}

// NextSegmentName allocates a new unique segment name.
func (s *SegmentInfos) NextSegmentName() string {
	name := "_" + strconv.FormatInt(s.Counter, 36)
	s.Counter++
	return name
}

// Changed bumps the version after an in-memory change.
func (s *SegmentInfos) Changed() { s.Version++ }

// Clone returns a deep copy.
func (s *SegmentInfos) Clone() *SegmentInfos {
	c := *s
	c.UserData = maps.Clone(s.UserData)
	c.Segments = make([]SegmentCommitInfo, len(s.Segments))
	for i := range s.Segments {
		c.Segments[i] = s.Segments[i].Clone()
	}
	return &c
}

// Find returns the index of the named segment or -1.
func (s *SegmentInfos) Find(name string) int {
	for i := range s.Segments {
		if s.Segments[i].Name == name {
			return i
		}
	}
	return -1
}

// TotalDocs returns the sum of DocCount over all segments.
func (s *SegmentInfos) TotalDocs() int {
	n := 0
	for i := range s.Segments {
		n += s.Segments[i].DocCount
	}
	return n
}

// TotalDeleted returns the sum of DelCount over all segments.
func (s *SegmentInfos) TotalDeleted() int {
	n := 0
	for i := range s.Segments {
		n += s.Segments[i].DelCount
	}
	return n
}

// Files returns every file referenced by the commit. The manifest file itself
// is included when includeManifest is set and the commit has a generation.
func (s *SegmentInfos) Files(includeManifest bool) []string {
	var files []string
	for i := range s.Segments {
		files = append(files, s.Segments[i].AllFiles()...)
	}
	if includeManifest && s.Generation > 0 {
		files = append(files, FileName(s.Generation))
	}
	return files
}

func (s *SegmentInfos) validate(resource string) error {
	seen := make(map[string]struct{}, len(s.Segments))
	for i := range s.Segments {
		seg := &s.Segments[i]
		if seg.DelCount < 0 || seg.DelCount > seg.DocCount {
			return fmt.Errorf("%w: %s: segment %s deletes %d of %d docs", ErrInvalid, resource, seg.Name, seg.DelCount, seg.DocCount)
		}
		if (seg.DelCount > 0) != (seg.DelGen > 0) {
			return fmt.Errorf("%w: %s: segment %s delCount=%d delGen=%d", ErrInvalid, resource, seg.Name, seg.DelCount, seg.DelGen)
		}
		if _, dup := seen[seg.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate segment %s", ErrInvalid, resource, seg.Name)
		}
		seen[seg.Name] = struct{}{}
	}
	return nil
}

// Store manages the manifest files and the CURRENT pointer.
type Store struct {
	store blobstore.BlobStore
	mu    sync.Mutex
}

// NewStore creates a new manifest store.
func NewStore(store blobstore.BlobStore) *Store {
	return &Store{store: store}
}

// Load loads the commit CURRENT points to. It returns ErrNotFound when the
// index has never been committed.
func (s *Store) Load(ctx context.Context) (*SegmentInfos, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.store.Open(ctx, CurrentFileName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	content, err := blobstore.ReadAll(ctx, b)
	name := strings.TrimSpace(string(content))
	b.Close()
	if err != nil {
		return nil, err
	}
	gen, ok := ParseFileName(name)
	if !ok {
		return nil, codec.Corruptf(CurrentFileName, "not a manifest name: %q", name)
	}
	return s.load(ctx, gen)
}

// LoadGeneration loads a specific generation.
func (s *Store) LoadGeneration(ctx context.Context, gen int64) (*SegmentInfos, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, gen)
}

func (s *Store) load(ctx context.Context, gen int64) (*SegmentInfos, error) {
	name := FileName(gen)
	b, err := s.store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", name, err)
	}
	defer b.Close()
	data, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", name, err)
	}
	infos, err := Decode(data, name)
	if err != nil {
		return nil, err
	}
	if infos.Generation != gen {
		return nil, codec.Corruptf(name, "holds generation %d", infos.Generation)
	}
	return infos, nil
}

// ListGenerations returns the generations of all manifest files, ascending.
func (s *Store) ListGenerations(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.store.List(ctx, ManifestFilePrefix)
	if err != nil {
		return nil, err
	}
	var gens []int64
	for _, f := range files {
		if gen, ok := ParseFileName(f); ok {
			gens = append(gens, gen)
		}
	}
	slices.Sort(gens)
	return gens, nil
}

// Save writes infos as the next generation and publishes it through CURRENT.
// On success infos.Generation holds the new generation. On failure infos is
// left unchanged.
func (s *Store) Save(ctx context.Context, infos *SegmentInfos) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := infos.validate("commit"); err != nil {
		return err
	}

	next := infos.Clone()
	next.Generation = infos.Generation + 1
	next.CreatedAt = time.Now()
	filename := FileName(next.Generation)

	var buf bytes.Buffer
	if err := Encode(&buf, next, filename); err != nil {
		return err
	}
	if err := s.store.Put(ctx, filename, buf.Bytes()); err != nil {
		return err
	}
	if err := s.store.Put(ctx, CurrentFileName, []byte(filename)); err != nil {
		_ = s.store.Delete(ctx, filename)
		return err
	}

	infos.Generation = next.Generation
	infos.CreatedAt = next.CreatedAt
	return nil
}

// DeleteGeneration deletes the manifest file of gen.
func (s *Store) DeleteGeneration(ctx context.Context, gen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Delete(ctx, FileName(gen))
}
