package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to these so callers can use errors.Is.
var (
	ErrUnknownRuleVariant     = errors.New("unknown rule variant")
	ErrUnknownConfigKey       = errors.New("unknown config key")
	ErrUnknownRandomKey       = errors.New("unknown random key")
	ErrStoreNotInitialized    = errors.New("store not initialized")
	ErrStoreTransactionFailed = errors.New("store transaction failed")
	ErrUnknownCollection      = errors.New("unknown collection")
	ErrUnknownIndex           = errors.New("unknown index")
	ErrSchemaDowngrade        = errors.New("stored schema version is newer than declared")
	ErrUnknownTable           = errors.New("unknown dataset table")
	ErrUnknownEntity          = errors.New("unknown dataset entity")
)

// RuleError reports a malformed condition tree.
type RuleError struct {
	Op RuleOp
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("unknown rule: %q", string(e.Op))
}

func (e *RuleError) Unwrap() error { return ErrUnknownRuleVariant }

// UnknownConfigKeyError reports a config lookup for an undeclared key.
type UnknownConfigKeyError struct {
	Key string
}

func (e *UnknownConfigKeyError) Error() string {
	return fmt.Sprintf("unknown config key: %s", e.Key)
}

func (e *UnknownConfigKeyError) Unwrap() error { return ErrUnknownConfigKey }

// UnknownRandomKeyError reports a random fact lookup for an undeclared id.
type UnknownRandomKeyError struct {
	Key string
}

func (e *UnknownRandomKeyError) Error() string {
	return fmt.Sprintf("unknown random key: %s", e.Key)
}

func (e *UnknownRandomKeyError) Unwrap() error { return ErrUnknownRandomKey }

// StoreTransactionError wraps an I/O or quota failure inside a store transaction.
type StoreTransactionError struct {
	Collection string
	Op         string
	Err        error
}

func (e *StoreTransactionError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
}

// Is matches ErrStoreTransactionFailed; Unwrap exposes the cause.
func (e *StoreTransactionError) Is(target error) bool { return target == ErrStoreTransactionFailed }

func (e *StoreTransactionError) Unwrap() error { return e.Err }
