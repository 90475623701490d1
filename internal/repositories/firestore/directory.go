package firestore

import (
	"context"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/ujala-development/serials/internal/domain"
	pfirestore "github.com/ujala-development/serials/internal/platform/firestore"
	"github.com/ujala-development/serials/internal/repositories"
)

type directoryStore struct{ r *Registry }

// directoryEntry is the shape factories and models share on disk.
type directoryEntry struct {
	ID        string
	Code      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s directoryStore) GetFactory(ctx context.Context, factoryID string) (domain.Factory, error) {
	entry, err := s.get(ctx, s.r.factories, "factory", factoryID)
	if err != nil {
		return domain.Factory{}, err
	}
	return domain.Factory(entry), nil
}

func (s directoryStore) GetModel(ctx context.Context, modelID string) (domain.Model, error) {
	entry, err := s.get(ctx, s.r.models, "model", modelID)
	if err != nil {
		return domain.Model{}, err
	}
	return domain.Model(entry), nil
}

func (s directoryStore) ListFactories(ctx context.Context) ([]domain.Factory, error) {
	entries, err := s.list(ctx, s.r.factories)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Factory, 0, len(entries))
	for _, entry := range entries {
		out = append(out, domain.Factory(entry))
	}
	return out, nil
}

func (s directoryStore) ListModels(ctx context.Context) ([]domain.Model, error) {
	entries, err := s.list(ctx, s.r.models)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Model, 0, len(entries))
	for _, entry := range entries {
		out = append(out, domain.Model(entry))
	}
	return out, nil
}

func (s directoryStore) UpsertFactory(ctx context.Context, factory domain.Factory) (domain.Factory, error) {
	entry, err := s.upsert(ctx, s.r.factories, codeKindFactory, directoryEntry(factory))
	if err != nil {
		return domain.Factory{}, err
	}
	return domain.Factory(entry), nil
}

func (s directoryStore) UpsertModel(ctx context.Context, model domain.Model) (domain.Model, error) {
	entry, err := s.upsert(ctx, s.r.models, codeKindModel, directoryEntry(model))
	if err != nil {
		return domain.Model{}, err
	}
	return domain.Model(entry), nil
}

func (s directoryStore) get(ctx context.Context, base *pfirestore.BaseRepository[directoryDocument], kind, id string) (directoryEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return directoryEntry{}, repositories.NotFound(kind, id)
	}
	doc, err := base.Get(ctx, id)
	if isNotFound(err) {
		return directoryEntry{}, repositories.NotFound(kind, id)
	}
	if err != nil {
		return directoryEntry{}, err
	}
	return toEntry(doc.ID, doc.Data), nil
}

func (s directoryStore) list(ctx context.Context, base *pfirestore.BaseRepository[directoryDocument]) ([]directoryEntry, error) {
	docs, err := base.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]directoryEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toEntry(doc.ID, doc.Data))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// upsert writes the entry and moves its code claim in one transaction. Codes are unique
// per kind regardless of case.
func (s directoryStore) upsert(ctx context.Context, base *pfirestore.BaseRepository[directoryDocument], kind string, entry directoryEntry) (directoryEntry, error) {
	entry.ID = strings.TrimSpace(entry.ID)
	if entry.ID == "" || strings.TrimSpace(entry.Code) == "" {
		return directoryEntry{}, repositories.NewRecordError(repositories.RecordErrorInvalidInput, kind+" id and code are required", nil)
	}
	codeKind := kind + " code"

	var result directoryEntry
	err := s.r.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		entryRef := ref(ctx, base, entry.ID)
		claimRef := ref(ctx, s.r.codes, codeIndexID(kind, entry.Code))

		var existing *directoryDocument
		snap, err := tx.Get(entryRef)
		switch {
		case isNotFound(err):
		case err != nil:
			return err
		default:
			doc, err := base.Decode(snap)
			if err != nil {
				return err
			}
			existing = &doc.Data
		}

		claimSnap, err := tx.Get(claimRef)
		switch {
		case isNotFound(err):
		case err != nil:
			return err
		default:
			claim, err := s.r.codes.Decode(claimSnap)
			if err != nil {
				return err
			}
			if claim.Data.OwnerID != entry.ID {
				return repositories.Duplicate(codeKind, entry.Code, nil)
			}
		}

		now := s.r.now()
		entry.CreatedAt = now
		if existing != nil {
			entry.CreatedAt = existing.CreatedAt.UTC()
		}
		entry.UpdatedAt = now

		if err := tx.Set(entryRef, directoryDocument{Code: entry.Code, Name: entry.Name, CreatedAt: entry.CreatedAt, UpdatedAt: entry.UpdatedAt}); err != nil {
			return err
		}
		if err := tx.Set(claimRef, indexDocument{Kind: kind, Key: strings.ToUpper(strings.TrimSpace(entry.Code)), OwnerID: entry.ID}); err != nil {
			return err
		}
		if existing != nil && !strings.EqualFold(existing.Code, entry.Code) {
			if err := tx.Delete(ref(ctx, s.r.codes, codeIndexID(kind, existing.Code))); err != nil {
				return err
			}
		}
		result = entry
		return nil
	})
	if err != nil {
		return directoryEntry{}, translate(base.Collection()+".upsert", err, codeKind, entry.Code)
	}
	return result, nil
}

func toEntry(id string, d directoryDocument) directoryEntry {
	return directoryEntry{
		ID:        id,
		Code:      d.Code,
		Name:      d.Name,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type productStore struct{ r *Registry }

func (s productStore) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, repositories.NotFound("product", productID)
	}
	doc, err := s.r.products.Get(ctx, productID)
	if isNotFound(err) {
		return domain.Product{}, repositories.NotFound("product", productID)
	}
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data), nil
}

func (s productStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Product, error) {
	docs, err := s.r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID))
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeProduct(doc.ID, doc.Data))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
