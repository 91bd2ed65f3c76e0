package reader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/resourceloader/pkg/locator"
)

// GitType is the reader type for files inside Git repositories
const GitType = "git"

var commitSHA = regexp.MustCompile(`^[0-9a-f]{40}$`)

// GitFactory builds readers for git+<transport> URLs
type GitFactory struct{}

// NewGitFactory creates a new Git factory
func NewGitFactory() *GitFactory {
	return &GitFactory{}
}

// Type returns the reader type
func (f *GitFactory) Type() string { return GitType }

// Schemes returns the schemes served by this factory
func (f *GitFactory) Schemes() []string {
	return []string{"git+https", "git+http", "git+ssh", "git+file"}
}

// Accepts reports whether loc is a git+ URL
func (f *GitFactory) Accepts(loc locator.Locator) bool {
	return acceptsScheme(loc, f.Schemes()...)
}

// GitRef contains parsed Git reference information
type GitRef struct {
	URL  string // remote URL understood by go-git
	Ref  string // branch, tag, or commit SHA; empty means the remote HEAD
	Path string // file path within the repository
}

// New parses loc and creates a GitReader.
// loc format: git+https://host/org/repo.git//path/in/repo.yaml?ref=v1.0.0
func (f *GitFactory) New(loc locator.Locator) (Reader, error) {
	ref, err := parseGitRef(loc)
	if err != nil {
		return nil, fmt.Errorf("invalid Git reference: %w", err)
	}
	return &GitReader{loc: loc, ref: ref}, nil
}

// parseGitRef splits the repository from the file path at the "//" marker
func parseGitRef(loc locator.Locator) (*GitRef, error) {
	repoPath, filePath, ok := strings.Cut(loc.Path(), "//")
	if !ok || filePath == "" {
		return nil, fmt.Errorf("missing //<file path> in %s", loc.RawURL())
	}

	if decoded, err := url.PathUnescape(filePath); err == nil {
		filePath = decoded
	}

	authority := loc.Host()
	if loc.User() != "" {
		authority = loc.User() + "@" + authority
	}
	transport := strings.TrimPrefix(loc.Scheme(), "git+")
	remote := fmt.Sprintf("%s://%s%s", transport, authority, repoPath)

	return &GitRef{
		URL:  remote,
		Ref:  loc.Query().Get("ref"),
		Path: filePath,
	}, nil
}

// GitReader reads one file from a Git repository. Its fingerprint is the
// hash the requested ref points at on the remote.
type GitReader struct {
	loc locator.Locator
	ref *GitRef
}

// Locator returns the bound locator
func (r *GitReader) Locator() locator.Locator { return r.loc }

// Type returns the reader type
func (r *GitReader) Type() string { return GitType }

// Fingerprint lists the remote references and returns the hash of the
// requested ref without cloning.
func (r *GitReader) Fingerprint(ctx context.Context) (string, error) {
	if commitSHA.MatchString(r.ref.Ref) {
		return r.ref.Ref, nil
	}

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{r.ref.URL},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list remote %s: %w", r.ref.URL, err)
	}

	byName := make(map[plumbing.ReferenceName]*plumbing.Reference, len(refs))
	for _, ref := range refs {
		byName[ref.Name()] = ref
	}

	var candidates []plumbing.ReferenceName
	if r.ref.Ref == "" {
		candidates = []plumbing.ReferenceName{plumbing.HEAD}
	} else {
		candidates = []plumbing.ReferenceName{
			plumbing.NewBranchReferenceName(r.ref.Ref),
			plumbing.NewTagReferenceName(r.ref.Ref),
		}
	}

	for _, name := range candidates {
		ref, ok := byName[name]
		if !ok {
			continue
		}
		if ref.Type() == plumbing.SymbolicReference {
			if ref, ok = byName[ref.Target()]; !ok {
				continue
			}
		}
		return ref.Hash().String(), nil
	}

	log.FromContext(ctx).Info("Ref not found on remote while probing fingerprint",
		"url", r.ref.URL, "ref", r.ref.Ref)
	return "", fmt.Errorf("%w: ref %q not found on %s", ErrFingerprintUnavailable, r.ref.Ref, r.ref.URL)
}

// Open clones the repository into memory and returns the file content at
// the requested ref
func (r *GitReader) Open(ctx context.Context) (io.ReadCloser, error) {
	repo, err := r.clone(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	var hash *plumbing.Hash
	if r.ref.Ref == "" {
		head, err := repo.Head()
		if err != nil {
			return nil, fmt.Errorf("failed to get HEAD: %w", err)
		}
		h := head.Hash()
		hash = &h
	} else {
		hash, err = repo.ResolveRevision(plumbing.Revision(r.ref.Ref))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve revision %s: %w", r.ref.Ref, err)
		}
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", hash, err)
	}

	file, err := commit.File(r.ref.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s at %s: %w", r.ref.Path, hash, err)
	}

	return file.Reader()
}

// clone performs a bare in-memory clone. Branches and tags get a shallow,
// single-branch clone; commit SHAs need the full history.
func (r *GitReader) clone(ctx context.Context) (*git.Repository, error) {
	opts := &git.CloneOptions{
		URL:      r.ref.URL,
		Depth:    1,
		Progress: io.Discard,
	}

	if r.ref.Ref == "" {
		return git.CloneContext(ctx, memory.NewStorage(), nil, opts)
	}

	if commitSHA.MatchString(r.ref.Ref) {
		opts.Depth = 0
		return git.CloneContext(ctx, memory.NewStorage(), nil, opts)
	}

	opts.SingleBranch = true
	opts.ReferenceName = plumbing.NewBranchReferenceName(r.ref.Ref)
	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, opts)
	if err == nil {
		return repo, nil
	}

	// Try as tag if branch clone failed
	opts.ReferenceName = plumbing.NewTagReferenceName(r.ref.Ref)
	return git.CloneContext(ctx, memory.NewStorage(), nil, opts)
}
