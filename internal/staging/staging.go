// Package staging materializes the on-disk build context for one snippet:
// build recipe, dependency manifest, ignore rules and the source file.
package staging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/p-arndt/snippetd/internal/config"
)

const (
	RecipeFile   = "Dockerfile"
	ManifestFile = "package.json"
	IgnoreFile   = ".dockerignore"
)

// Builder lays out staging contexts under a shared root as {prefix}-{id}.
type Builder struct {
	cfg config.StagingConfig
}

func NewBuilder(cfg config.StagingConfig) *Builder {
	return &Builder{cfg: cfg}
}

// Context is a staging directory whose files are written on demand.
type Context struct {
	Path  string
	files map[string]string
}

// Dir returns the deterministic staging path for id.
func (b *Builder) Dir(id string) string {
	return filepath.Join(b.cfg.Root, b.cfg.Prefix+"-"+id)
}

// Prepare computes the context for id without touching the disk. Nothing is
// written until Write is called.
func (b *Builder) Prepare(id, source string) *Context {
	dir := b.Dir(id)
	return &Context{
		Path: dir,
		files: map[string]string{
			RecipeFile:       b.recipe(),
			ManifestFile:     b.manifest(id),
			IgnoreFile:       "node_modules\nnpm-debug.log\n",
			b.cfg.SourceFile: source,
		},
	}
}

// Write creates every file of the context. It returns only after all writes
// have finished and fails if any one of them failed.
func (c *Context) Write() error {
	if err := os.MkdirAll(c.Path, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	var g errgroup.Group
	for name, contents := range c.files {
		g.Go(func() error {
			return writeFile(filepath.Join(c.Path, name), contents)
		})
	}
	return g.Wait()
}

// Remove deletes the staging directory recursively. Missing directories are not an error.
func (c *Context) Remove() error {
	if err := os.RemoveAll(c.Path); err != nil {
		return fmt.Errorf("remove staging dir: %w", err)
	}
	return nil
}

// SourcePath is where the snippet source lives inside the context.
func (b *Builder) SourcePath(c *Context) string {
	return filepath.Join(c.Path, b.cfg.SourceFile)
}

// WriteSource stages a replacement source file in a fresh directory for
// pushing into a running instance. The caller must invoke cleanup.
func (b *Builder) WriteSource(id, source string) (string, func(), error) {
	if err := os.MkdirAll(b.cfg.Root, 0o755); err != nil {
		return "", nil, fmt.Errorf("create staging root: %w", err)
	}
	dir, err := os.MkdirTemp(b.cfg.Root, b.cfg.Prefix+"-"+id+"-update-")
	if err != nil {
		return "", nil, fmt.Errorf("create update dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	path := filepath.Join(dir, b.cfg.SourceFile)
	if err := writeFile(path, source); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

func (b *Builder) recipe() string {
	lines := []string{
		"FROM " + b.cfg.BaseImage,
		"WORKDIR " + b.cfg.AppRoot,
		"COPY package*.json ./",
		"RUN npm install",
		"COPY . .",
		`CMD ["npm", "start"]`,
	}
	return strings.Join(lines, "\n") + "\n"
}

type packageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	Main         string            `json:"main"`
	Private      bool              `json:"private"`
	Scripts      map[string]string `json:"scripts"`
	Dependencies map[string]string `json:"dependencies"`
}

func (b *Builder) manifest(id string) string {
	m := packageManifest{
		Name:        b.cfg.Prefix + "-" + id,
		Version:     "1.0.0",
		Description: "snippet runtime",
		Main:        b.cfg.SourceFile,
		Private:     true,
		Scripts:     map[string]string{"start": "node " + b.cfg.SourceFile},
	}
	if b.cfg.DependencyName != "" {
		m.Dependencies = map[string]string{b.cfg.DependencyName: b.cfg.DependencyVersion}
	}
	data, _ := json.MarshalIndent(m, "", "  ")
	return string(data) + "\n"
}

func writeFile(path, contents string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
