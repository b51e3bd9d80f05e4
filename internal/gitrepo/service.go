// Package gitrepo stores each proof document in its own git
// repository. Every save becomes a commit on main, so the full edit
// history of a proof stays recoverable, and named versions are tags.
package gitrepo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"prooflab/api/internal/store"
)

const proofFileName = "proof.json"

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureProofRepo initializes the repository for a proof with its
// serialized baseline. Calling it again for an existing proof is a
// no-op.
func (s *Service) EnsureProofRepo(proofID string, initial []byte, author string) error {
	lock := s.proofLock(proofID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(proofID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, proofFileName), withTrailingNewline(initial), 0o644); err != nil {
		return fmt.Errorf("write initial proof: %w", err)
	}
	if _, err := worktree.Add(proofFileName); err != nil {
		return fmt.Errorf("git add initial proof: %w", err)
	}
	hash, err := worktree.Commit("Create proof", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit initial proof: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitProof records a new snapshot of the serialized proof on main.
func (s *Service) CommitProof(proofID string, payload []byte, author, message string) (store.CommitInfo, error) {
	lock := s.proofLock(proofID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(proofID))
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	if err := checkoutMain(repo); err != nil {
		return store.CommitInfo{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, proofFileName), withTrailingNewline(payload), 0o644); err != nil {
		return store.CommitInfo{}, fmt.Errorf("write proof.json: %w", err)
	}

	if _, err := worktree.Add(proofFileName); err != nil {
		return store.CommitInfo{}, fmt.Errorf("git add proof: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("commit proof: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}

	return toCommitInfo(commitObj), nil
}

// GetHeadProof returns the serialized proof at the tip of main.
func (s *Service) GetHeadProof(proofID string) ([]byte, store.CommitInfo, error) {
	lock := s.proofLock(proofID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(proofID))
	if err != nil {
		return nil, store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, store.CommitInfo{}, fmt.Errorf("resolve main: %w", err)
	}

	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, store.CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}

	payload, err := readProofFromCommit(commitObj)
	if err != nil {
		return nil, store.CommitInfo{}, err
	}

	return payload, toCommitInfo(commitObj), nil
}

// GetProofByHash returns the serialized proof at a specific commit or
// tag. Short hashes and tag names both resolve.
func (s *Service) GetProofByHash(proofID, hash string) ([]byte, error) {
	lock := s.proofLock(proofID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(proofID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readProofFromCommit(commitObj)
}

func (s *Service) GetCommitByHash(proofID, hash string) (store.CommitInfo, error) {
	lock := s.proofLock(proofID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(proofID))
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit %s: %w", hash, err)
	}

	return toCommitInfo(commitObj), nil
}

// History lists the most recent commits on main, newest first.
func (s *Service) History(proofID string, limit int) ([]store.CommitInfo, error) {
	lock := s.proofLock(proofID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(proofID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// CreateNamedVersion tags a commit so it can be recalled by name.
func (s *Service) CreateNamedVersion(proofID, hash, name, author string) error {
	lock := s.proofLock(proofID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(proofID))
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return err
	}

	_, err = repo.CreateTag(name, resolvedHash, &git.CreateTagOptions{
		Tagger:  signature(author),
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

// ListNamedVersions returns all tags for a proof.
func (s *Service) ListNamedVersions(proofID string) ([]store.NamedVersion, error) {
	lock := s.proofLock(proofID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(proofID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}
	defer iter.Close()

	versions := make([]store.NamedVersion, 0)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		version := store.NamedVersion{
			Name: ref.Name().Short(),
			Hash: ref.Hash().String()[:7],
		}
		if tagObj, tagErr := repo.TagObject(ref.Hash()); tagErr == nil {
			version.Hash = tagObj.Target.String()[:7]
			version.CreatedBy = tagObj.Tagger.Name
			version.CreatedAt = tagObj.Tagger.When
		}
		versions = append(versions, version)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return versions, nil
}

// DeleteProofRepo removes the repository for a deleted proof.
func (s *Service) DeleteProofRepo(proofID string) error {
	lock := s.proofLock(proofID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(proofID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

// HasChanges reports whether two serialized proofs differ.
func HasChanges(from, to []byte) bool {
	return !bytes.Equal(bytes.TrimRight(from, "\n"), bytes.TrimRight(to, "\n"))
}

func (s *Service) repoPath(proofID string) string {
	return filepath.Join(s.baseDir, proofID)
}

func (s *Service) proofLock(proofID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[proofID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[proofID] = lock
	return lock
}

func checkoutMain(repo *git.Repository) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName("main")
	if _, err := repo.Reference(branchRef, true); err != nil {
		return fmt.Errorf("resolve main: %w", err)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout main: %w", err)
	}
	return nil
}

func readProofFromCommit(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(proofFileName)
	if err != nil {
		return nil, fmt.Errorf("load proof.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open proof reader: %w", err)
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read proof bytes: %w", err)
	}
	return bytes.TrimRight(payload, "\n"), nil
}

func withTrailingNewline(payload []byte) []byte {
	if bytes.HasSuffix(payload, []byte("\n")) {
		return payload
	}
	return append(append([]byte(nil), payload...), '\n')
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.prooflab.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
