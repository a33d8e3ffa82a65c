package dataset

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"deadline/internal/blob/core"
	"deadline/internal/infra/blob/memory"
	"deadline/internal/infra/blob/s3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return raw
}

func TestYAMLAndJSONBundlesAgree(t *testing.T) {
	fromJSON := loadTestdata(t, "bundle.json")
	fromYAML := loadTestdata(t, "bundle.yaml")

	assert.Equal(t, fromJSON.Version(), fromYAML.Version())
	assert.Equal(t, fromJSON.Countries(), fromYAML.Countries())
	assert.Equal(t, fromJSON.Ages(), fromYAML.Ages())
	assert.Equal(t, fromJSON.Sexes(), fromYAML.Sexes())
	assert.Equal(t, fromJSON.Questions(), fromYAML.Questions())
	assert.Equal(t, fromJSON.Achievements(), fromYAML.Achievements())
	assert.Equal(t, fromJSON.RandomRanges(), fromYAML.RandomRanges())
	assert.Equal(t, fromJSON.ConfigTable(), fromYAML.ConfigTable())
	assert.Equal(t, fromJSON.I18n(), fromYAML.I18n())
	assert.NotEqual(t, fromJSON.Digest(), fromYAML.Digest(), "digest covers the raw bytes")
}

func TestParseRejectsMalformedBundles(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"missing data":    `{"version":"1"}`,
		"empty version":   `{"version":"","data":{"country":[],"age":[],"sex":[],"question":[],"achivement":[],"random":[],"config":{}}}`,
		"bad sex":         `{"version":"1","data":{"country":[],"age":[],"sex":[{"value":"other"}],"question":[],"achivement":[],"random":[],"config":{}}}`,
		"bad alteration":  `{"version":"1","data":{"country":[],"age":[],"sex":[],"question":[{"id":1,"question":"q","options":[{"opt":"o","alt":{"type":"weird","args":1}}]}],"achivement":[],"random":[],"config":{}}}`,
		"bad config":      `{"version":"1","data":{"country":[],"age":[],"sex":[],"question":[],"achivement":[],"random":[],"config":{"year":{"key":"year","value":"long"}}}}`,
		"fractional age":  `{"version":"1","data":{"country":[],"age":[{"value":2.5}],"sex":[],"question":[],"achivement":[],"random":[],"config":{}}}`,
		"rule without op": `{"version":"1","data":{"country":[],"age":[],"sex":[],"question":[],"achivement":[{"achivement":"a","grade":1,"condition":{"args":[]}}],"random":[],"config":{}}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), FormatJSON)
			assert.Error(t, err)
		})
	}
	_, err := Parse([]byte("version: [unclosed"), FormatYAML)
	assert.Error(t, err)
}

func TestParseKeepsUnknownRuleVariants(t *testing.T) {
	doc := `{"version":"1","data":{"country":[],"age":[],"sex":[],"question":[],"achivement":[{"achivement":"a","grade":1,"condition":{"rule":"xor","args":[]}}],"random":[],"config":{}}}`
	ds, err := Parse([]byte(doc), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "xor", string(ds.Achievements()[0].Condition.Op))
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFor("bundles/data.yml", ""))
	assert.Equal(t, FormatYAML, FormatFor("bundles/data.YAML", ""))
	assert.Equal(t, FormatJSON, FormatFor("data.json", "application/yaml"))
	assert.Equal(t, FormatYAML, FormatFor("data", "application/yaml"))
	assert.Equal(t, FormatJSON, FormatFor("data", ""))
}

func TestLoadFromBlobStores(t *testing.T) {
	ctx := context.Background()
	stores := map[string]core.Store{
		"memory": memory.New(),
		"s3":     s3.NewMockForTests(),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			published, _, err := Publish(ctx, store, "bundles/data.yaml", readTestdata(t, "bundle.yaml"), FormatYAML, WithLogger(quietLogger()))
			require.NoError(t, err)

			ds, err := Load(ctx, store, "bundles/data.yaml", WithLogger(quietLogger()))
			require.NoError(t, err)
			assert.Equal(t, "2024.1", ds.Version())
			assert.Len(t, ds.Questions(), 2)
			assert.Equal(t, published.Digest(), ds.Digest())

			_, err = Load(ctx, store, "bundles/missing.json", WithLogger(quietLogger()))
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}
