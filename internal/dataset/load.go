package dataset

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"deadline/internal/blob/core"
)

// Format is the encoding of a raw bundle.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

//go:embed bundle.schema.json
var bundleSchemaJSON []byte

const bundleSchemaURL = "bundle.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func bundleSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(bundleSchemaURL, bytes.NewReader(bundleSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add bundle schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(bundleSchemaURL)
	})
	return schema, schemaErr
}

// FormatFor picks the bundle format from the key extension, falling back to
// the content type. Unknown keys default to JSON.
func FormatFor(key, contentType string) Format {
	switch strings.ToLower(path.Ext(key)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	}
	if strings.Contains(contentType, "yaml") {
		return FormatYAML
	}
	return FormatJSON
}

// Load reads the bundle stored under key and parses it.
func Load(ctx context.Context, store core.Store, key string, opts ...Option) (*Dataset, error) {
	info, rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", key, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", key, err)
	}
	ds, err := Parse(raw, FormatFor(key, info.ContentType), opts...)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", key, err)
	}
	if want := info.Metadata[MetaDigest]; want != "" && want != ds.Digest() {
		return nil, fmt.Errorf("%w: %s published as %s, read %s", ErrDigestMismatch, key, want, ds.Digest())
	}
	o := applyOptions(opts)
	o.logger.Info("dataset loaded",
		"key", key,
		"driver", string(store.Driver()),
		"version", ds.Version(),
		"digest", ds.Digest(),
		"questions", len(ds.data.Question),
		"achievements", len(ds.data.Achievements))
	return ds, nil
}

// Parse decodes raw in the given format, validates it against the bundle
// schema and builds the accessor.
func Parse(raw []byte, format Format, opts ...Option) (*Dataset, error) {
	doc := raw
	if format == FormatYAML {
		var err error
		if doc, err = yamlToJSON(raw); err != nil {
			return nil, err
		}
	}
	if err := validate(doc); err != nil {
		return nil, err
	}
	var b Bundle
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	sum := sha256.Sum256(raw)
	return New(b, append(opts, withDigest(hex.EncodeToString(sum[:])))...)
}

func validate(doc []byte) error {
	s, err := bundleSchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode bundle: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("invalid bundle: %w", err)
	}
	return nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode yaml bundle: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert yaml bundle: %w", err)
	}
	return out, nil
}
