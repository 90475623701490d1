package firestore

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/ujala-development/serials/internal/platform/firestore"
)

// claimUpdate describes what happens to a serial claim when its owner is bulk deleted.
type claimUpdate struct {
	kind      string
	key       string
	successor string
	release   bool
}

// planClaimRelease inspects the claim for key. When the current owner is in doomed the claim
// is handed to the first surviving peer, or released when none survives.
func (r *Registry) planClaimRelease(ctx context.Context, kind, key string, doomed map[string]struct{}, peers func(context.Context) ([]string, error)) (claimUpdate, error) {
	doc, err := r.serials.Get(ctx, serialIndexID(kind, key))
	if isNotFound(err) {
		return claimUpdate{}, nil
	}
	if err != nil {
		return claimUpdate{}, err
	}
	if _, gone := doomed[doc.Data.OwnerID]; !gone {
		return claimUpdate{}, nil
	}
	candidates, err := peers(ctx)
	if err != nil {
		return claimUpdate{}, err
	}
	sort.Strings(candidates)
	for _, id := range candidates {
		if _, gone := doomed[id]; !gone {
			return claimUpdate{kind: kind, key: key, successor: id}, nil
		}
	}
	return claimUpdate{kind: kind, key: key, release: true}, nil
}

// bulkDelete removes docs and applies the claim updates with a BulkWriter. Deletes are not
// atomic across documents; rerunning the caller converges because missing documents are skipped.
func (r *Registry) bulkDelete(ctx context.Context, op string, docs []*firestore.DocumentRef, claims map[string]claimUpdate) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	writer := client.BulkWriter(ctx)

	var jobs []*firestore.BulkWriterJob
	enqueue := func(job *firestore.BulkWriterJob, err error) error {
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
		return nil
	}
	for _, doc := range docs {
		if err := enqueue(writer.Delete(doc)); err != nil {
			writer.End()
			return pfirestore.WrapError(op, err)
		}
	}
	for _, claim := range claims {
		if claim.key == "" {
			continue
		}
		claimRef := ref(ctx, r.serials, serialIndexID(claim.kind, claim.key))
		if claim.release {
			err = enqueue(writer.Delete(claimRef))
		} else {
			err = enqueue(writer.Set(claimRef, indexDocument{Kind: claim.kind, Key: claim.key, OwnerID: claim.successor}))
		}
		if err != nil {
			writer.End()
			return pfirestore.WrapError(op, err)
		}
	}
	writer.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return pfirestore.WrapError(op, err)
		}
	}
	return nil
}
