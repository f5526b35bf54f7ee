// Package blob is the single entry point to the blob storage backends. Other
// packages depend on blob.Store and never import the infra implementations.
package blob

import (
	"bayplanner/internal/blob/core"
	fsblob "bayplanner/internal/infra/blob/fs"
	memblob "bayplanner/internal/infra/blob/memory"
	s3blob "bayplanner/internal/infra/blob/s3"
	"context"
)

type (
	Driver     = core.Driver
	PutOptions = core.PutOptions
	Info       = core.Info
	Store      = core.Store
	// S3Config holds explicit S3 construction parameters.
	S3Config = s3blob.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrExists   = core.ErrExists
	ErrNotFound = core.ErrNotFound
)

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memblob.New() }

// NewFilesystem returns a Store rooted at root.
func NewFilesystem(root string) (Store, error) { return fsblob.New(root) }

// NewS3 returns a Store for an S3-compatible bucket.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return s3blob.New(ctx, cfg) }

// OpenS3FromEnv builds an S3 Store from BAYPLANNER_BLOB_S3_* variables.
func OpenS3FromEnv(ctx context.Context) (Store, error) { return s3blob.OpenFromEnv(ctx) }

// NewMockS3ForTests returns an S3 Store served by an in-process fake.
func NewMockS3ForTests() Store { return s3blob.NewMockForTests() }
