package provisioning

import (
	"context"
	"time"

	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
)

// --- Scheduling Authority Abstraction Interfaces ---

// Metadata is what the authority adds to a stored resource.
type Metadata struct {
	// Created is true when the call that returned this record created the resource.
	Created    bool
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// CollectionRecord is a collection as the authority currently stores it.
type CollectionRecord struct {
	Spec jobspec.JobCollectionSpec
	Metadata
}

// JobRecord is a job as the authority currently stores it.
type JobRecord struct {
	Collection string
	Spec       jobspec.JobSpec
	Metadata
}

// Authority is the remote source of truth for collections and jobs. Put calls
// are create-or-update with full replace semantics. Implementations report
// failures as *RemoteError and never retry on their own.
type Authority interface {
	PutCollection(ctx context.Context, resourceGroup string, spec jobspec.JobCollectionSpec) (*CollectionRecord, error)
	GetCollection(ctx context.Context, resourceGroup, name string) (*CollectionRecord, error)
	PutJob(ctx context.Context, resourceGroup, collection string, spec jobspec.JobSpec) (*JobRecord, error)
	GetJob(ctx context.Context, resourceGroup, collection, name string) (*JobRecord, error)
	Close() error
}
