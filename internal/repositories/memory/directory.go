package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

type directoryStore struct{ r *Registry }

func (s directoryStore) GetFactory(ctx context.Context, factoryID string) (domain.Factory, error) {
	if err := ctx.Err(); err != nil {
		return domain.Factory{}, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	factory, ok := s.r.factories[strings.TrimSpace(factoryID)]
	if !ok {
		return domain.Factory{}, repositories.NotFound("factory", factoryID)
	}
	return factory, nil
}

func (s directoryStore) GetModel(ctx context.Context, modelID string) (domain.Model, error) {
	if err := ctx.Err(); err != nil {
		return domain.Model{}, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	model, ok := s.r.models[strings.TrimSpace(modelID)]
	if !ok {
		return domain.Model{}, repositories.NotFound("model", modelID)
	}
	return model, nil
}

func (s directoryStore) ListFactories(ctx context.Context) ([]domain.Factory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	out := make([]domain.Factory, 0, len(s.r.factories))
	for _, f := range s.r.factories {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s directoryStore) ListModels(ctx context.Context) ([]domain.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	out := make([]domain.Model, 0, len(s.r.models))
	for _, m := range s.r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s directoryStore) UpsertFactory(ctx context.Context, factory domain.Factory) (domain.Factory, error) {
	if err := ctx.Err(); err != nil {
		return domain.Factory{}, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	for id, other := range s.r.factories {
		if id != factory.ID && strings.EqualFold(other.Code, factory.Code) {
			return domain.Factory{}, repositories.Duplicate("factory code", factory.Code, nil)
		}
	}
	now := s.r.now()
	if existing, ok := s.r.factories[factory.ID]; ok {
		factory.CreatedAt = existing.CreatedAt
	} else {
		factory.CreatedAt = now
	}
	factory.UpdatedAt = now
	if err := s.r.commit("factories.upsert"); err != nil {
		return domain.Factory{}, err
	}
	s.r.factories[factory.ID] = factory
	return factory, nil
}

func (s directoryStore) UpsertModel(ctx context.Context, model domain.Model) (domain.Model, error) {
	if err := ctx.Err(); err != nil {
		return domain.Model{}, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	for id, other := range s.r.models {
		if id != model.ID && strings.EqualFold(other.Code, model.Code) {
			return domain.Model{}, repositories.Duplicate("model code", model.Code, nil)
		}
	}
	now := s.r.now()
	if existing, ok := s.r.models[model.ID]; ok {
		model.CreatedAt = existing.CreatedAt
	} else {
		model.CreatedAt = now
	}
	model.UpdatedAt = now
	if err := s.r.commit("models.upsert"); err != nil {
		return domain.Model{}, err
	}
	s.r.models[model.ID] = model
	return model, nil
}

type productStore struct{ r *Registry }

func (s productStore) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	product, ok := s.r.products[strings.TrimSpace(productID)]
	if !ok {
		return domain.Product{}, repositories.NotFound("product", productID)
	}
	return product, nil
}

func (s productStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	var out []domain.Product
	for _, product := range s.r.products {
		if product.OrderID == orderID {
			out = append(out, product)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
