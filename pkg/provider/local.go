package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// LocalConfig configures a local filesystem provider.
type LocalConfig struct {
	// Path is the root directory to enumerate.
	Path string `mapstructure:"path"`
}

// Validate validates the local provider configuration.
func (c LocalConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Path, validation.Required),
	)
}

// LocalProvider enumerates documents under a directory tree. Document
// ids are slash-separated paths relative to the root, so moving the root
// does not invalidate the index.
type LocalProvider struct {
	name   string
	root   string
	fs     afero.Fs
	logger hclog.Logger
}

// NewLocalProvider creates a local provider rooted at cfg.Path on the OS
// filesystem.
func NewLocalProvider(name string, cfg LocalConfig, logger hclog.Logger) (*LocalProvider, error) {
	return newLocalProvider(name, cfg, afero.NewOsFs(), logger)
}

// newLocalProvider allows tests to substitute an in-memory filesystem.
func newLocalProvider(name string, cfg LocalConfig, fsys afero.Fs, logger hclog.Logger) (*LocalProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid local provider settings: %w", err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	info, err := fsys.Stat(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("local provider path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local provider path is not a directory: %s", cfg.Path)
	}

	return &LocalProvider{
		name:   name,
		root:   cfg.Path,
		fs:     fsys,
		logger: logger.Named("provider.local").With("provider_name", name),
	}, nil
}

// Type implements Provider.
func (p *LocalProvider) Type() string { return TypeLocal }

// Name implements Provider.
func (p *LocalProvider) Name() string { return p.name }

// Enumerate walks the root directory and returns a descriptor per
// regular file. Hidden files and directories (dot-prefixed) are skipped.
func (p *LocalProvider) Enumerate(ctx context.Context) ([]Descriptor, error) {
	var descriptors []Descriptor

	err := afero.Walk(p.fs, p.root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		base := info.Name()
		if info.IsDir() {
			if path != p.root && strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(base, ".") || !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		descriptors = append(descriptors, Descriptor{
			DocumentID:   rel,
			Filename:     base,
			RelativePath: rel,
			ETag:         localETag(rel, info),
			LastModified: info.ModTime().UTC(),
			ProviderType: TypeLocal,
			ProviderName: p.name,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", p.root, err)
	}

	p.logger.Debug("enumerated local documents", "count", len(descriptors))
	return descriptors, nil
}

// Fetch implements Provider. Paths escaping the root are rejected.
func (p *LocalProvider) Fetch(ctx context.Context, documentID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clean := filepath.Clean(filepath.FromSlash(documentID))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("document id escapes provider root: %s", documentID)
	}

	f, err := p.fs.Open(filepath.Join(p.root, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", documentID, err)
	}
	return f, nil
}

// Describe implements Provider.
func (p *LocalProvider) Describe() map[string]any {
	return map[string]any{
		"path": p.root,
	}
}

// localETag derives a version token for a local file. The filesystem has
// no native etag, so one is synthesized from the attributes that change
// when the content changes.
func localETag(relativePath string, info fs.FileInfo) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d",
		relativePath, info.ModTime().UnixNano(), info.Size())))
	return hex.EncodeToString(sum[:])
}
