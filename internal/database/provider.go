package database

import (
	"context"
	"fmt"
)

// HNSWRebuilder is an interface for repositories that support HNSW index rebuilding
type HNSWRebuilder interface {
	// RebuildHNSW rebuilds the in-memory HNSW index
	RebuildHNSW(ctx context.Context) error
	// HNSWCount returns the number of items in the HNSW index
	HNSWCount() int
	// IsHNSWEnabled returns whether HNSW is enabled
	IsHNSWEnabled() bool
	// SaveHNSWIndex saves the current index to disk (if path configured)
	SaveHNSWIndex() error
}

var (
	postgresIdentityWriter  func() IdentityWriter
	postgresAttendanceStore func() AttendanceStore
	postgresSessionStore    func() SessionStore
	postgresIdentityHNSW    HNSWRebuilder
	postgresInitialized     bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(
	identities func() IdentityWriter,
	attendance func() AttendanceStore,
	sessions func() SessionStore,
) {
	postgresIdentityWriter = identities
	postgresAttendanceStore = attendance
	postgresSessionStore = sessions
	postgresInitialized = true
}

// RegisterIdentityHNSWRebuilder registers the HNSW rebuilder for the identity repository.
func RegisterIdentityHNSWRebuilder(rebuilder HNSWRebuilder) {
	postgresIdentityHNSW = rebuilder
}

// GetIdentityHNSWRebuilder returns the registered identity HNSW rebuilder, or nil if not registered.
func GetIdentityHNSWRebuilder() HNSWRebuilder {
	return postgresIdentityHNSW
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

// GetIdentityReader returns an IdentityReader from the PostgreSQL backend
func GetIdentityReader(ctx context.Context) (IdentityReader, error) {
	return GetIdentityWriter(ctx)
}

// GetIdentityWriter returns an IdentityWriter from the PostgreSQL backend
func GetIdentityWriter(ctx context.Context) (IdentityWriter, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresIdentityWriter == nil {
		return nil, fmt.Errorf("PostgreSQL identity repository not registered")
	}
	return postgresIdentityWriter(), nil
}

// GetAttendanceStore returns an AttendanceStore from the PostgreSQL backend
func GetAttendanceStore(ctx context.Context) (AttendanceStore, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresAttendanceStore == nil {
		return nil, fmt.Errorf("PostgreSQL attendance repository not registered")
	}
	return postgresAttendanceStore(), nil
}

// GetSessionStore returns a SessionStore from the PostgreSQL backend
func GetSessionStore(ctx context.Context) (SessionStore, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresSessionStore == nil {
		return nil, fmt.Errorf("PostgreSQL session repository not registered")
	}
	return postgresSessionStore(), nil
}
