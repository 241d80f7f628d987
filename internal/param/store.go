package param

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	getter "github.com/hashicorp/go-getter"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/strrl/tpcpid/internal/errors"
)

// Source fetches one parametrization. Implementations do a single attempt:
// a missing calibration is a configuration problem, not a transient fault.
type Source interface {
	Fetch(ctx context.Context, name string, kind Kind, timestamp int64) (*Parametrization, error)
	Describe(name string) string
}

// BlobStore returns the most recent object valid at or before timestamp.
// A miss must be reported as an error marked errors.ErrLookup.
type BlobStore interface {
	Get(ctx context.Context, path string, timestamp int64) ([]byte, error)
}

type storeKey struct {
	name      string
	kind      Kind
	timestamp int64
}

// Store memoizes loads so that repeated requests for the same key hit the
// source once per run. Loaded values are never mutated.
type Store struct {
	source Source
	log    *zap.SugaredLogger

	mu     sync.Mutex
	loaded map[storeKey]*Parametrization
}

func NewStore(source Source, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		source: source,
		log:    log,
		loaded: make(map[storeKey]*Parametrization),
	}
}

// Load returns the parametrization for (name, kind, timestamp). Any failure
// is returned as is; callers treat it as fatal for the run.
func (s *Store) Load(ctx context.Context, name string, kind Kind, timestamp int64) (*Parametrization, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.WithHint(errors.Configf("empty %s parametrization name", kind),
			"set --param-signal and --param-sigma")
	}
	if !kind.Valid() {
		return nil, errors.Configf("unknown parametrization kind %q", kind)
	}

	key := storeKey{name: name, kind: kind, timestamp: timestamp}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.loaded[key]; ok {
		return p, nil
	}

	s.log.Infow("Loading parametrization",
		"kind", kind,
		"name", name,
		"from", s.source.Describe(name),
		"timestamp", timestamp,
	)

	p, err := s.source.Fetch(ctx, name, kind, timestamp)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s parametrization %s", kind, name)
	}

	s.loaded[key] = p
	return p, nil
}

// Len reports how many distinct keys have been loaded.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loaded)
}

// RemoteSource fetches each parametrization from <basePath>/<name>.
type RemoteSource struct {
	blobs    BlobStore
	basePath string
}

func NewRemoteSource(blobs BlobStore, basePath string) (*RemoteSource, error) {
	basePath = strings.Trim(strings.TrimSpace(basePath), "/")
	if basePath == "" {
		return nil, errors.WithHint(errors.Configf("calibration path is empty"), "set --ccdb-path")
	}
	if strings.Contains(basePath, "//") || strings.Contains(basePath, "..") {
		return nil, errors.Configf("malformed calibration path %q", basePath)
	}
	return &RemoteSource{blobs: blobs, basePath: basePath}, nil
}

func (r *RemoteSource) Path(name string) string {
	return r.basePath + "/" + name
}

func (r *RemoteSource) Describe(name string) string {
	return "ccdb:" + r.Path(name)
}

func (r *RemoteSource) Fetch(ctx context.Context, name string, kind Kind, timestamp int64) (*Parametrization, error) {
	if strings.ContainsAny(name, "/ ") {
		return nil, errors.Configf("malformed parametrization name %q", name)
	}
	data, err := r.blobs.Get(ctx, r.Path(name), timestamp)
	if err != nil {
		return nil, err
	}
	return Decode(data, name, kind)
}

// FileSource reads every parametrization from one YAML container. The
// locator is a local path or any go-getter source; it is read once.
type FileSource struct {
	locator string

	once sync.Once
	file *File
	err  error
}

func NewFileSource(locator string) *FileSource {
	return &FileSource{locator: locator}
}

func (f *FileSource) Describe(name string) string {
	return fmt.Sprintf("file:%s#%s", f.locator, name)
}

func (f *FileSource) Fetch(ctx context.Context, name string, kind Kind, _ int64) (*Parametrization, error) {
	f.once.Do(func() {
		f.file, f.err = f.read(ctx)
	})
	if f.err != nil {
		return nil, f.err
	}
	return f.file.Lookup(name, kind)
}

func (f *FileSource) read(ctx context.Context) (*File, error) {
	path := f.locator
	if _, err := os.Stat(path); err != nil {
		fetched, cleanup, ferr := fetchFile(ctx, f.locator)
		if ferr != nil {
			return nil, ferr
		}
		defer cleanup()
		path = fetched
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "reading parametrization file %s", f.locator), errors.ErrConfiguration)
	}

	var file File
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parsing parametrization file %s", f.locator), errors.ErrConfiguration)
	}
	if len(file.Parametrizations) == 0 {
		return nil, errors.Configf("parametrization file %s holds no parametrizations", f.locator)
	}
	return &file, nil
}

// fetchFile downloads a remote locator into a temporary directory.
func fetchFile(ctx context.Context, src string) (string, func(), error) {
	tempDir, err := os.MkdirTemp("", "tpcpid-param-*")
	if err != nil {
		return "", nil, errors.Wrap(err, "creating temp directory")
	}
	cleanup := func() { os.RemoveAll(tempDir) }

	pwd, _ := os.Getwd()
	dst := filepath.Join(tempDir, "params.yaml")
	client := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     dst,
		Pwd:     pwd,
		Mode:    getter.ClientModeFile,
		Getters: getter.Getters,
	}
	if err := client.Get(); err != nil {
		cleanup()
		return "", nil, errors.Mark(errors.Wrapf(err, "fetching parametrization file %s", src), errors.ErrConfiguration)
	}
	return dst, cleanup, nil
}

// ResolveTimestamp maps the "now" sentinel -1 to the current time in
// milliseconds since the epoch.
func ResolveTimestamp(ts int64, now time.Time) int64 {
	if ts < 0 {
		return now.UnixMilli()
	}
	return ts
}
