package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"deadline/internal/blob/core"
)

// Metadata keys stored next to a published bundle.
const (
	MetaVersion = "version"
	MetaDigest  = "digest"
)

// ErrDigestMismatch is returned by Load when the stored bytes no longer hash
// to the digest recorded at publish time.
var ErrDigestMismatch = errors.New("dataset: bundle digest mismatch")

// ContentType is the media type bundles of this format are published with.
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Publish validates raw and stores it under key. Nothing is written for an
// invalid bundle, and an existing key is never replaced (core.ErrExists).
func Publish(ctx context.Context, store core.Store, key string, raw []byte, format Format, opts ...Option) (*Dataset, core.Info, error) {
	if got := FormatFor(key, format.ContentType()); got != format {
		return nil, core.Info{}, fmt.Errorf("publish bundle %s: key implies %s, bundle is %s", key, got, format)
	}
	ds, err := Parse(raw, format, opts...)
	if err != nil {
		return nil, core.Info{}, fmt.Errorf("bundle %s: %w", key, err)
	}
	info, err := store.Put(ctx, key, bytes.NewReader(raw), core.PutOptions{
		ContentType: format.ContentType(),
		Metadata:    map[string]string{MetaVersion: ds.Version(), MetaDigest: ds.Digest()},
	})
	if err != nil {
		return nil, core.Info{}, fmt.Errorf("publish bundle %s: %w", key, err)
	}
	applyOptions(opts).logger.Info("dataset published",
		"key", key,
		"driver", string(store.Driver()),
		"version", ds.Version(),
		"digest", ds.Digest(),
		"size", info.Size)
	return ds, info, nil
}
