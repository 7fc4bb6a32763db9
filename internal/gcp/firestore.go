package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/pdfrenderer/internal/metastore"
	"github.com/Lllllllleong/pdfrenderer/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreStore implements metastore.Store. Content records live at
// hubs/{hubId}/content/{contentId}.
type FirestoreStore struct {
	client           *firestore.Client
	jobsCollection   string
	leasesCollection string
	now              func() time.Time
}

var _ metastore.Store = (*FirestoreStore)(nil)

type leaseDoc struct {
	Holder    string    `firestore:"holder"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

// NewFirestoreStore wraps client; jobs and leases go to the named top-level collections.
func NewFirestoreStore(client *firestore.Client, jobsCollection, leasesCollection string) *FirestoreStore {
	return &FirestoreStore{
		client:           client,
		jobsCollection:   jobsCollection,
		leasesCollection: leasesCollection,
		now:              time.Now,
	}
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) contentRef(hubID, contentID string) *firestore.DocumentRef {
	return s.client.Collection("hubs").Doc(hubID).Collection("content").Doc(contentID)
}

func (s *FirestoreStore) MergeContent(ctx context.Context, hubID, contentID string, rec models.ContentRecord) error {
	if _, err := s.contentRef(hubID, contentID).Set(ctx, rec.Fields(), firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to merge content hubs/%s/content/%s: %w", hubID, contentID, err)
	}
	return nil
}

func (s *FirestoreStore) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) error {
	ref := s.client.Collection(s.leasesCollection).Doc(key)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to read lease %s: %w", key, err)
		}
		now := s.now()
		if err == nil {
			var current leaseDoc
			if err := snap.DataTo(&current); err != nil {
				return fmt.Errorf("failed to decode lease %s: %w", key, err)
			}
			if current.Holder != holder && current.ExpiresAt.After(now) {
				return fmt.Errorf("lease %s held by %s: %w", key, current.Holder, models.ErrLeaseHeld)
			}
		}
		return tx.Set(ref, leaseDoc{Holder: holder, ExpiresAt: now.Add(ttl)})
	})
}

func (s *FirestoreStore) ReleaseLease(ctx context.Context, key, holder string) error {
	ref := s.client.Collection(s.leasesCollection).Doc(key)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read lease %s: %w", key, err)
		}
		var current leaseDoc
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("failed to decode lease %s: %w", key, err)
		}
		if current.Holder != holder {
			return nil
		}
		return tx.Delete(ref)
	})
}

func (s *FirestoreStore) RecordJob(ctx context.Context, job *models.RenderJob) error {
	if _, err := s.client.Collection(s.jobsCollection).Doc(job.JobID).Set(ctx, job); err != nil {
		return fmt.Errorf("failed to record job %s: %w", job.JobID, err)
	}
	return nil
}
