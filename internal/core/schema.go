package core

import "deadline/pkg/domain"

// Store schema names.
const (
	SchemaName    = "deadline"
	SchemaVersion = 2

	CollectionGlobal    = "global"
	CollectionQuestions = "questions"
	IndexVersion        = "version"
)

// Singleton keys of the global collection.
const (
	globalKeyRandom  = "random"
	globalKeyVersion = "version"
)

// DefaultSchema declares the collections the derived cache persists into.
// Version 2 added the version index over question outcomes.
func DefaultSchema() domain.StoreSchema {
	return domain.StoreSchema{
		Name:    SchemaName,
		Version: SchemaVersion,
		Collections: []domain.CollectionSpec{
			{Name: CollectionGlobal, KeyPath: []string{"key"}},
			{
				Name:    CollectionQuestions,
				KeyPath: []string{"country", "age", "sex", "version"},
				Indexes: []domain.IndexSpec{{Name: IndexVersion, KeyPath: []string{"version"}}},
			},
		},
	}
}
