package enum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/suche/seccheck/pkg/types"
)

// maxPeel bounds tag-to-tag chains.
const maxPeel = 16

// GitRepository answers tree, diff and blob questions about one repository.
type GitRepository struct {
	repo    *git.Repository
	cleanup func() error
}

// NewGitRepository wraps an already opened repository.
func NewGitRepository(repo *git.Repository) *GitRepository {
	return &GitRepository{repo: repo}
}

// OpenGitRepository opens the bare or non-bare repository at path.
func OpenGitRepository(path string) (*GitRepository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository %s: %w", path, err)
	}
	return &GitRepository{repo: repo}, nil
}

// OpenQuarantined opens the repository at path with the object directory
// quarantine layered on top. git receive-pack keeps pushed objects in a
// quarantine directory (GIT_QUARANTINE_PATH) until pre-receive accepts them.
// An empty quarantine behaves like OpenGitRepository. Close releases the
// overlay.
func OpenQuarantined(path, quarantine string) (*GitRepository, error) {
	if quarantine == "" {
		return OpenGitRepository(path)
	}
	base, err := OpenGitRepository(path)
	if err != nil {
		return nil, err
	}

	// The filesystem storage expects an "objects" directory below its root.
	overlay, err := os.MkdirTemp("", "seccheck-quarantine-")
	if err != nil {
		return nil, fmt.Errorf("failed to create quarantine overlay: %w", err)
	}
	abs, err := filepath.Abs(quarantine)
	if err != nil {
		os.RemoveAll(overlay)
		return nil, fmt.Errorf("failed to resolve quarantine %s: %w", quarantine, err)
	}
	if err := os.Symlink(abs, filepath.Join(overlay, "objects")); err != nil {
		os.RemoveAll(overlay)
		return nil, fmt.Errorf("failed to link quarantine %s: %w", quarantine, err)
	}

	layered := &quarantineStorage{
		Storer:   base.repo.Storer,
		incoming: filesystem.NewStorage(osfs.New(overlay), cache.NewObjectLRUDefault()),
	}
	repo, err := git.Open(layered, nil)
	if err != nil {
		os.RemoveAll(overlay)
		return nil, fmt.Errorf("failed to open quarantined repository: %w", err)
	}
	return &GitRepository{
		repo:    repo,
		cleanup: func() error { return os.RemoveAll(overlay) },
	}, nil
}

// Close releases resources held by the repository handle.
func (r *GitRepository) Close() error {
	if r.cleanup == nil {
		return nil
	}
	return r.cleanup()
}

// EnumerateTree lists every file reachable from the tree of rev. Annotated
// tags are peeled to the tree they point at.
func (r *GitRepository) EnumerateTree(ctx context.Context, rev string) ([]types.ScanCandidate, error) {
	tree, err := r.treeOf(rev)
	if err != nil {
		return nil, err
	}

	var out []types.ScanCandidate
	err = tree.Files().ForEach(func(f *object.File) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if f.Mode == filemode.Submodule {
			return nil
		}
		out = append(out, types.ScanCandidate{
			Path:      f.Name,
			ContentID: types.BlobID(f.Hash),
			Size:      f.Size,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree of %s: %w", rev, err)
	}
	return out, nil
}

// Diff lists the files added or modified between oldRev and newRev. Renames
// are detected, so a moved file is reported under its new path.
func (r *GitRepository) Diff(ctx context.Context, oldRev, newRev string) ([]types.ScanCandidate, error) {
	from, err := r.treeOf(oldRev)
	if err != nil {
		return nil, err
	}
	to, err := r.treeOf(newRev)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, from, to, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", oldRev, newRev, err)
	}

	out := make([]types.ScanCandidate, 0, len(changes))
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return nil, fmt.Errorf("failed to classify change: %w", err)
		}
		if action == merkletrie.Delete {
			continue
		}
		entry := change.To.TreeEntry
		if entry.Mode == filemode.Submodule || entry.Mode == filemode.Dir {
			continue
		}
		size, err := r.repo.Storer.EncodedObjectSize(entry.Hash)
		if err != nil {
			size = -1
		}
		out = append(out, types.ScanCandidate{
			Path:      change.To.Name,
			ContentID: types.BlobID(entry.Hash),
			Size:      size,
		})
	}
	return out, nil
}

// OpenContent reads the blob with the given id.
func (r *GitRepository) OpenContent(ctx context.Context, id types.BlobID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blob, err := r.repo.BlobObject(plumbing.Hash(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", id, err)
	}
	rc, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", id, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	return data, nil
}

// treeOf resolves rev (an object name or any revision expression) to a tree.
func (r *GitRepository) treeOf(rev string) (*object.Tree, error) {
	var hash plumbing.Hash
	if plumbing.IsHash(rev) {
		hash = plumbing.NewHash(rev)
	} else {
		h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", rev, err)
		}
		hash = *h
	}

	obj, err := r.repo.Object(plumbing.AnyObject, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", rev, err)
	}
	for i := 0; i < maxPeel; i++ {
		switch o := obj.(type) {
		case *object.Commit:
			return o.Tree()
		case *object.Tree:
			return o, nil
		case *object.Tag:
			if obj, err = o.Object(); err != nil {
				return nil, fmt.Errorf("failed to peel tag %s: %w", o.Name, err)
			}
		default:
			return nil, fmt.Errorf("%s names a %s, not a tree-ish", rev, obj.Type())
		}
	}
	return nil, fmt.Errorf("%s: tag chain deeper than %d", rev, maxPeel)
}

// quarantineStorage reads objects from the incoming quarantine first and
// falls back to the repository's own storage for everything else.
type quarantineStorage struct {
	storage.Storer
	incoming *filesystem.Storage
}

func (s *quarantineStorage) EncodedObject(t plumbing.ObjectType, h plumbing.Hash) (plumbing.EncodedObject, error) {
	obj, err := s.incoming.EncodedObject(t, h)
	if err == nil {
		return obj, nil
	}
	if !errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, err
	}
	return s.Storer.EncodedObject(t, h)
}

func (s *quarantineStorage) HasEncodedObject(h plumbing.Hash) error {
	if err := s.incoming.HasEncodedObject(h); err == nil {
		return nil
	}
	return s.Storer.HasEncodedObject(h)
}

func (s *quarantineStorage) EncodedObjectSize(h plumbing.Hash) (int64, error) {
	if size, err := s.incoming.EncodedObjectSize(h); err == nil {
		return size, nil
	}
	return s.Storer.EncodedObjectSize(h)
}
