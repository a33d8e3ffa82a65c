package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreSchemaValidate(t *testing.T) {
	valid := StoreSchema{
		Name:    "deadline",
		Version: 2,
		Collections: []CollectionSpec{
			{Name: "global", KeyPath: []string{"key"}},
			{Name: "questions", KeyPath: []string{"country", "age"}, Indexes: []IndexSpec{{Name: "version", KeyPath: []string{"version"}}}},
		},
	}
	assert.NoError(t, valid.Validate())

	idx, ok := valid.Collections[1].Index("version")
	assert.True(t, ok)
	assert.Equal(t, []string{"version"}, idx.KeyPath)
	_, ok = valid.Collections[1].Index("missing")
	assert.False(t, ok)

	cases := map[string]StoreSchema{
		"zero version":   {Name: "x", Version: 0},
		"empty name":     {Name: "x", Version: 1, Collections: []CollectionSpec{{KeyPath: []string{"k"}}}},
		"duplicate":      {Name: "x", Version: 1, Collections: []CollectionSpec{{Name: "a", KeyPath: []string{"k"}}, {Name: "a", KeyPath: []string{"k"}}}},
		"no key path":    {Name: "x", Version: 1, Collections: []CollectionSpec{{Name: "a"}}},
		"unnamed index":  {Name: "x", Version: 1, Collections: []CollectionSpec{{Name: "a", KeyPath: []string{"k"}, Indexes: []IndexSpec{{KeyPath: []string{"v"}}}}}},
		"index dup name": {Name: "x", Version: 1, Collections: []CollectionSpec{{Name: "a", KeyPath: []string{"k"}, Indexes: []IndexSpec{{Name: "i", KeyPath: []string{"v"}}, {Name: "i", KeyPath: []string{"w"}}}}}},
	}
	for name, schema := range cases {
		assert.Error(t, schema.Validate(), name)
	}
}
