package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/Notoriousjayy/CIFlowDocs/internal/config"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
)

// GitCollaborator talks to a git repository through go-git. One instance is
// bound to one pipeline's repository; a mirror clone under mirrorDir backs
// diff and tag operations so they never disturb build working copies.
type GitCollaborator struct {
	repo      config.RepoConfig
	mirrorDir string
}

// NewGitCollaborator binds a collaborator to a pipeline repository. mirrorDir
// receives a persistent clone used for history queries.
func NewGitCollaborator(repo config.RepoConfig, mirrorDir string) *GitCollaborator {
	return &GitCollaborator{repo: repo, mirrorDir: mirrorDir}
}

// Head lists the remote's references without cloning and resolves the
// configured ref.
func (g *GitCollaborator) Head(ctx context.Context) (revision.Revision, error) {
	auth, err := g.auth()
	if err != nil {
		return revision.Revision{}, err
	}

	remote := git.NewRemote(memory.NewStorage(), &gitcfg.RemoteConfig{
		Name: "origin",
		URLs: []string{g.repo.URL},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil {
		return revision.Revision{}, classify("ls-remote", g.repo.URL, err)
	}

	want := plumbing.NewBranchReferenceName(g.ref())
	for _, ref := range refs {
		if ref.Name() == want {
			return revision.Revision{Ref: g.ref(), Hash: ref.Hash().String()}, nil
		}
	}
	return revision.Revision{}, &NotFoundError{Op: "ls-remote", URL: g.repo.URL,
		Err: fmt.Errorf("ref %s not present on remote", want)}
}

// Materialize produces a clean working copy of rev under dir. An existing
// directory is removed first so builds never see leftovers from a previous
// checkout.
func (g *GitCollaborator) Materialize(ctx context.Context, rev revision.Revision, dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove existing directory: %w", err)
	}

	auth, err := g.auth()
	if err != nil {
		return err
	}

	slog.Debug("Materializing revision",
		logfields.Revision(rev.String()), slog.String("url", g.repo.URL), slog.String("dir", dir))

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           g.repo.URL,
		ReferenceName: plumbing.NewBranchReferenceName(rev.Ref),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil {
		return classify("clone", g.repo.URL, err)
	}

	if rev.Hash == "" {
		return nil
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(rev.Hash)}); err != nil {
		return classify("checkout", g.repo.URL, err)
	}
	return nil
}

// Diff walks commit history in the mirror clone from to back to from,
// collecting touched files and committer identities.
func (g *GitCollaborator) Diff(ctx context.Context, from, to revision.Revision) (Changeset, error) {
	repo, err := g.mirror(ctx)
	if err != nil {
		return Changeset{}, err
	}

	cs := Changeset{From: from, To: to}
	toCommit, err := repo.CommitObject(plumbing.NewHash(to.Hash))
	if err != nil {
		return Changeset{}, classify("diff", g.repo.URL, err)
	}

	authors := map[string]bool{}
	files := map[string]bool{}

	iter, err := repo.Log(&git.LogOptions{From: toCommit.Hash})
	if err != nil {
		return Changeset{}, classify("diff", g.repo.URL, err)
	}
	defer iter.Close()

	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash.String() == from.Hash {
			return storer.ErrStop
		}
		if !authors[c.Author.Email] {
			authors[c.Author.Email] = true
			cs.Authors = append(cs.Authors, c.Author.Email)
		}
		stats, statErr := c.Stats()
		if statErr != nil {
			return nil // merge commits without stats are not fatal
		}
		for _, s := range stats {
			if !files[s.Name] {
				files[s.Name] = true
				cs.Files = append(cs.Files, s.Name)
			}
		}
		return nil
	})
	if err != nil {
		return Changeset{}, classify("diff", g.repo.URL, err)
	}
	return cs, nil
}

// TagLabel creates a lightweight tag for the label and pushes it to origin.
// A tag that already exists locally or remotely is treated as success so the
// operation stays idempotent.
func (g *GitCollaborator) TagLabel(ctx context.Context, rev revision.Revision, label revision.Label) error {
	repo, err := g.mirror(ctx)
	if err != nil {
		return err
	}

	name := label.String()
	_, err = repo.CreateTag(name, plumbing.NewHash(rev.Hash), nil)
	if err != nil && err != git.ErrTagExists {
		return classify("tag", g.repo.URL, err)
	}

	auth, err := g.auth()
	if err != nil {
		return err
	}
	spec := gitcfg.RefSpec("refs/tags/" + name + ":refs/tags/" + name)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitcfg.RefSpec{spec},
		Auth:       auth,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return classify("push-tag", g.repo.URL, err)
	}
	slog.Info("Tagged revision", logfields.Revision(rev.String()), logfields.Label(name))
	return nil
}

// mirror opens the persistent clone, creating or refreshing it as needed.
func (g *GitCollaborator) mirror(ctx context.Context) (*git.Repository, error) {
	auth, err := g.auth()
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(filepath.Join(g.mirrorDir, ".git")); statErr == nil {
		repo, openErr := git.PlainOpen(g.mirrorDir)
		if openErr != nil {
			return nil, fmt.Errorf("open mirror: %w", openErr)
		}
		err = repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			Auth:       auth,
			Tags:       git.AllTags,
		})
		if err != nil && err != git.NoErrAlreadyUpToDate {
			return nil, classify("fetch", g.repo.URL, err)
		}
		return repo, nil
	}

	repo, err := git.PlainCloneContext(ctx, g.mirrorDir, false, &git.CloneOptions{
		URL:  g.repo.URL,
		Auth: auth,
	})
	if err != nil {
		return nil, classify("clone", g.repo.URL, err)
	}
	return repo, nil
}

func (g *GitCollaborator) ref() string {
	if g.repo.Ref == "" {
		return "main"
	}
	return g.repo.Ref
}

// auth builds a go-git AuthMethod from repository configuration.
func (g *GitCollaborator) auth() (transport.AuthMethod, error) {
	a := g.repo.Auth
	if a == nil {
		return nil, nil
	}
	switch a.Type {
	case "none", "":
		return nil, nil

	case "ssh":
		keyPath := a.KeyPath
		if keyPath == "" {
			keyPath = filepath.Join(os.Getenv("HOME"), ".ssh", "id_rsa")
		}
		keys, err := gitssh.NewPublicKeysFromFile("git", keyPath, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key from %s: %w", keyPath, err)
		}
		return keys, nil

	case "token":
		if a.Token == "" {
			return nil, fmt.Errorf("token authentication requires a token")
		}
		return &githttp.BasicAuth{Username: "token", Password: a.Token}, nil

	case "basic":
		if a.Username == "" || a.Password == "" {
			return nil, fmt.Errorf("basic authentication requires username and password")
		}
		return &githttp.BasicAuth{Username: a.Username, Password: a.Password}, nil

	default:
		return nil, fmt.Errorf("unsupported authentication type: %s", a.Type)
	}
}
