// Package provider presents heterogeneous document sources as a uniform
// capability set: enumerate the current documents, fetch one document's
// content, and describe the source for the provider registry.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
)

// ErrNotFound is returned by Fetch when a document has disappeared since
// enumeration.
var ErrNotFound = errors.New("document not found")

// Provider type tags. Selection is a closed-world enumeration: adding a
// provider type means adding a tag and a constructor case, nothing else.
const (
	TypeLocal    = "local"
	TypeS3       = "s3"
	TypeOneDrive = "onedrive"
)

// Descriptor describes one document as reported by enumeration.
// Descriptors for the same underlying file are stable across calls: the
// same file always yields the same DocumentID.
type Descriptor struct {
	// DocumentID is the provider's native stable identifier: the
	// relative path for filesystem providers, the object key for object
	// stores, the item id for sync services.
	DocumentID string

	// Filename is the document's display name.
	Filename string

	// RelativePath is the path within the provider, when the provider
	// has a path concept.
	RelativePath string

	// ETag is the opaque version token. Equal etags mean identical
	// content for indexing purposes; the token is never parsed.
	ETag string

	// LastModified is the provider-reported modification time.
	LastModified time.Time

	// ProviderType and ProviderName attribute the descriptor to its
	// source.
	ProviderType string
	ProviderName string
}

// Provider is one source of documents.
type Provider interface {
	// Type returns the provider type tag.
	Type() string

	// Name returns the operator-chosen instance label.
	Name() string

	// Enumerate returns descriptors for the current set of documents.
	// Ordering is unspecified.
	Enumerate(ctx context.Context) ([]Descriptor, error)

	// Fetch returns the current content of the identified document. May
	// fail with ErrNotFound if the document has disappeared since
	// enumeration.
	Fetch(ctx context.Context, documentID string) (io.ReadCloser, error)

	// Describe returns provider metadata suitable for persisting to the
	// provider registry entry.
	Describe() map[string]any
}

// New constructs a provider of the given type from its settings blob.
// Unknown types and invalid settings are errors; the indexer skips such
// providers with a warning.
func New(providerType, providerName string, settings map[string]any, logger hclog.Logger) (Provider, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	switch providerType {
	case TypeLocal:
		var cfg LocalConfig
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return NewLocalProvider(providerName, cfg, logger)
	case TypeS3:
		var cfg S3Config
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return NewS3Provider(providerName, cfg, logger)
	case TypeOneDrive:
		var cfg OneDriveConfig
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return NewOneDriveProvider(providerName, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", providerType)
	}
}

// ValidateSettings checks a settings blob against the typed config for
// the provider type without constructing the provider. Unknown types
// pass here and fail at construction time.
func ValidateSettings(providerType string, settings map[string]any) error {
	switch providerType {
	case TypeLocal:
		var cfg LocalConfig
		if err := decodeSettings(settings, &cfg); err != nil {
			return err
		}
		return cfg.Validate()
	case TypeS3:
		var cfg S3Config
		if err := decodeSettings(settings, &cfg); err != nil {
			return err
		}
		return cfg.Validate()
	case TypeOneDrive:
		var cfg OneDriveConfig
		if err := decodeSettings(settings, &cfg); err != nil {
			return err
		}
		return cfg.Validate()
	default:
		return nil
	}
}

// decodeSettings maps the opaque settings blob onto a typed provider
// config.
func decodeSettings(settings map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create settings decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("invalid provider settings: %w", err)
	}
	return nil
}
