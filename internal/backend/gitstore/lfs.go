package gitstore

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fntb/stac-repository/internal/apperrors"
)

// Large assets never enter the git object database. The tree holds a small
// LFS pointer file instead, and the content lives in a content-addressed
// store under .git/lfs/objects, keyed by its sha256. This mirrors the git-lfs
// on-disk layout so a standard git-lfs client can adopt the repository.
const (
	lfsSpecURL    = "https://git-lfs.github.com/spec/v1"
	lfsObjectsDir = "lfs/objects"

	// lfsPointerMaxSize bounds what is even considered as a pointer
	// candidate when reading a tree back.
	lfsPointerMaxSize = 512
)

// lfsPointer is the decoded form of an LFS pointer file.
type lfsPointer struct {
	OID  string // sha256 hex of the content
	Size int64
}

// encode renders the canonical pointer file content.
func (p lfsPointer) encode() []byte {
	return []byte(fmt.Sprintf("version %s\noid sha256:%s\nsize %d\n", lfsSpecURL, p.OID, p.Size))
}

// decodeLFSPointer parses a pointer file. ok is false when the content is not
// a pointer, which callers treat as a raw in-tree asset.
func decodeLFSPointer(content []byte) (lfsPointer, bool) {
	if len(content) > lfsPointerMaxSize {
		return lfsPointer{}, false
	}

	var p lfsPointer
	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "version "):
			if strings.TrimPrefix(line, "version ") != lfsSpecURL {
				return lfsPointer{}, false
			}
		case strings.HasPrefix(line, "oid sha256:"):
			p.OID = strings.TrimPrefix(line, "oid sha256:")
		case strings.HasPrefix(line, "size "):
			size, err := strconv.ParseInt(strings.TrimPrefix(line, "size "), 10, 64)
			if err != nil {
				return lfsPointer{}, false
			}
			p.Size = size
		}
	}
	if p.OID == "" {
		return lfsPointer{}, false
	}
	return p, true
}

// lfsStore is the local content-addressed object store.
type lfsStore struct {
	dir string // <repo>/.git/lfs/objects
}

func newLFSStore(gitDir string) *lfsStore {
	return &lfsStore{dir: filepath.Join(gitDir, lfsObjectsDir)}
}

func (l *lfsStore) objectPath(oid string) string {
	return filepath.Join(l.dir, oid[:2], oid[2:4], oid)
}

// Put streams content into the store and returns its pointer. Writing is
// content-addressed: a failed attempt leaves at most an orphan temp file and
// an interrupted transaction never corrupts an existing object.
func (l *lfsStore) Put(src io.Reader) (lfsPointer, error) {
	if err := os.MkdirAll(l.dir, dirPerm); err != nil {
		return lfsPointer{}, apperrors.BackendIO("create lfs store", err)
	}

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return lfsPointer{}, apperrors.BackendIO("create lfs temp file", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), src)
	if err != nil {
		_ = tmp.Close()
		return lfsPointer{}, apperrors.BackendIO("copy asset into lfs store", err)
	}
	if err := tmp.Close(); err != nil {
		return lfsPointer{}, apperrors.BackendIO("flush lfs temp file", err)
	}

	pointer := lfsPointer{
		OID:  hex.EncodeToString(hasher.Sum(nil)),
		Size: size,
	}

	target := l.objectPath(pointer.OID)
	if _, err := os.Stat(target); err == nil {
		// Content already stored, the rename below would be a no-op anyway.
		return pointer, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return lfsPointer{}, apperrors.BackendIO("create lfs object dir", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return lfsPointer{}, apperrors.BackendIO("store lfs object", err)
	}
	return pointer, nil
}

// Open returns a reader over the content behind a pointer.
func (l *lfsStore) Open(p lfsPointer) (io.ReadCloser, error) {
	f, err := os.Open(l.objectPath(p.OID)) //nolint:gosec // oid is hex, path is store controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound(fmt.Sprintf("lfs object %s", p.OID), err)
		}
		return nil, apperrors.BackendIO(fmt.Sprintf("open lfs object %s", p.OID), err)
	}
	return f, nil
}

// Mirror copies every object into another lfs store directory, used when
// syncing with filesystem remotes. Existing objects are skipped: content
// addressing makes the copy idempotent.
func (l *lfsStore) Mirror(otherDir string) error {
	return filepath.Walk(l.dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(l.dir, p)
		if err != nil {
			return err
		}
		target := filepath.Join(otherDir, rel)
		if _, err := os.Stat(target); err == nil {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
			return err
		}
		src, err := os.Open(p) //nolint:gosec // path is store controlled
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()

		dst, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm) //nolint:gosec // path is store controlled
		if err != nil {
			if os.IsExist(err) {
				return nil
			}
			return err
		}
		if _, err := io.Copy(dst, src); err != nil {
			_ = dst.Close()
			return err
		}
		return dst.Close()
	})
}
