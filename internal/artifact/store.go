// Package artifact stores generated audio files and serves them back by name.
//
// Files live in a single flat directory. When a mirror object store is
// configured every artifact is also uploaded there, so an instance that did
// not generate a file can still serve it.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/openvoice-api/internal/core"
	"github.com/google/uuid"
)

const (
	// Extension of every artifact.
	Extension = ".wav"

	nameTimeLayout = "20060102_150405"
	suffixLength   = 8
	dirPermissions = 0o750
	filePerms      = 0o600
)

// ownNamePattern matches names produced by NewName; only those are swept.
var ownNamePattern = regexp.MustCompile(`^\d{8}_\d{6}_\d{3}_[0-9a-f]{8}\.wav$`)

var (
	// ErrNotFound is returned when an artifact does not exist or its name is not servable.
	ErrNotFound = errors.New("artifact not found")
	// ErrEmpty is returned when saving an empty artifact.
	ErrEmpty = errors.New("artifact data cannot be empty")
)

// Deleter is implemented by mirrors that support removal.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// ContentTyper is implemented by mirrors that record the content type of objects.
type ContentTyper interface {
	ContentType(ctx context.Context, key string) (string, error)
}

// Artifact describes a saved audio file.
type Artifact struct {
	Name string
	Path string
	Size int64
}

// Object is an opened artifact.
type Object struct {
	io.ReadSeekCloser
	Name    string
	Size    int64
	ModTime time.Time
	// ContentType is set when the mirror recorded one.
	ContentType string
}

// Store saves and opens artifacts in a directory.
type Store struct {
	dir    string
	mirror core.ObjectStore
	log    *logger.Logger
	now    func() time.Time
}

// NewStore creates the directory if needed. mirror may be nil.
func NewStore(dir string, mirror core.ObjectStore, log *logger.Logger) (*Store, error) {
	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}

	return &Store{dir: dir, mirror: mirror, log: log, now: time.Now}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// NewName returns a timestamped name with a random suffix, e.g.
// 20240131_142501_123_9f86d081.wav.
func (s *Store) NewName() string {
	now := s.now()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLength]

	return fmt.Sprintf("%s_%03d_%s%s", now.Format(nameTimeLayout), now.Nanosecond()/int(time.Millisecond), suffix, Extension)
}

// Save writes data as a new artifact and mirrors it when a mirror is set.
// A mirror failure is logged and does not fail the save.
func (s *Store) Save(ctx context.Context, data []byte) (Artifact, error) {
	if len(data) == 0 {
		return Artifact{}, ErrEmpty
	}

	name := s.NewName()
	path := filepath.Join(s.dir, name)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerms)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to create artifact %s: %w", name, err)
	}

	_, writeErr := file.Write(data)
	closeErr := file.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(path)

		return Artifact{}, fmt.Errorf("failed to write artifact %s: %w", name, errors.Join(writeErr, closeErr))
	}

	if s.mirror != nil {
		mirrorErr := s.mirror.Upload(ctx, name, data)
		if mirrorErr != nil {
			s.log.Warn("Failed to mirror artifact %s: %v", name, mirrorErr)
		}
	}

	return Artifact{Name: name, Path: path, Size: int64(len(data))}, nil
}

// Open returns the artifact called name. The local directory is tried first,
// then the mirror.
func (s *Store) Open(ctx context.Context, name string) (*Object, error) {
	if !ValidName(name) {
		return nil, ErrNotFound
	}

	file, err := os.Open(filepath.Join(s.dir, name))
	if err == nil {
		info, statErr := file.Stat()
		if statErr != nil {
			_ = file.Close()

			return nil, fmt.Errorf("failed to stat artifact %s: %w", name, statErr)
		}

		return &Object{ReadSeekCloser: file, Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to open artifact %s: %w", name, err)
	}

	if s.mirror == nil {
		return nil, ErrNotFound
	}

	data, mirrorErr := s.mirror.Download(ctx, name)
	if mirrorErr != nil {
		s.log.Warn("Artifact %s not found in mirror: %v", name, mirrorErr)

		return nil, ErrNotFound
	}

	object := &Object{
		ReadSeekCloser: nopCloser{bytes.NewReader(data)},
		Name:           name,
		Size:           int64(len(data)),
		ModTime:        s.now(),
	}

	if typer, ok := s.mirror.(ContentTyper); ok {
		contentType, typeErr := typer.ContentType(ctx, name)
		if typeErr != nil {
			s.log.Warn("No content type for mirrored artifact %s: %v", name, typeErr)
		}

		object.ContentType = contentType
	}

	return object, nil
}

// Remove deletes an artifact locally and from the mirror.
func (s *Store) Remove(ctx context.Context, name string) error {
	if !ValidName(name) {
		return ErrNotFound
	}

	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove artifact %s: %w", name, err)
	}

	if deleter, ok := s.mirror.(Deleter); ok {
		deleteErr := deleter.Delete(ctx, name)
		if deleteErr != nil {
			s.log.Warn("Failed to delete mirrored artifact %s: %v", name, deleteErr)
		}
	}

	return nil
}

// ValidName reports whether name is a plain .wav file name.
func ValidName(name string) bool {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return false
	}

	if strings.HasPrefix(name, ".") {
		return false
	}

	return strings.HasSuffix(name, Extension)
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
