package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

const (
	factoryIDPrefix = "fac_"
	modelIDPrefix   = "mdl_"
)

// DirectoryServiceDeps bundles collaborators for the directory service.
type DirectoryServiceDeps struct {
	Repository  repositories.DirectoryRepository
	IDGenerator func() string
	Logger      LoggerFunc
}

type directoryService struct {
	repo   repositories.DirectoryRepository
	newID  func() string
	logger LoggerFunc
}

// NewDirectoryService constructs the factory/model directory service.
func NewDirectoryService(deps DirectoryServiceDeps) (DirectoryService, error) {
	if deps.Repository == nil {
		return nil, errors.New("directory service: repository is required")
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &directoryService{repo: deps.Repository, newID: idGen, logger: logger}, nil
}

func (s *directoryService) RegisterFactory(ctx context.Context, cmd RegisterFactoryCommand) (domain.Factory, error) {
	code, name, err := normalizeDirectoryEntry(cmd.Code, cmd.Name)
	if err != nil {
		return domain.Factory{}, err
	}
	id := strings.TrimSpace(cmd.ID)
	if id == "" {
		id = factoryIDPrefix + s.newID()
	} else if err := s.guardCodeChange(ctx, id, code, true); err != nil {
		return domain.Factory{}, err
	}

	saved, err := s.repo.UpsertFactory(ctx, domain.Factory{ID: id, Code: code, Name: name})
	if err != nil {
		if repositories.IsRecordCode(err, repositories.RecordErrorDuplicate) {
			return domain.Factory{}, fmt.Errorf("%w: factory code %s is already registered", ErrValidation, code)
		}
		return domain.Factory{}, mapStoreError(err)
	}
	s.logger(ctx, "directory.factory.registered", map[string]any{"factoryId": saved.ID, "code": saved.Code})
	return saved, nil
}

func (s *directoryService) RegisterModel(ctx context.Context, cmd RegisterModelCommand) (domain.Model, error) {
	code, name, err := normalizeDirectoryEntry(cmd.Code, cmd.Name)
	if err != nil {
		return domain.Model{}, err
	}
	id := strings.TrimSpace(cmd.ID)
	if id == "" {
		id = modelIDPrefix + s.newID()
	} else if err := s.guardCodeChange(ctx, id, code, false); err != nil {
		return domain.Model{}, err
	}

	saved, err := s.repo.UpsertModel(ctx, domain.Model{ID: id, Code: code, Name: name})
	if err != nil {
		if repositories.IsRecordCode(err, repositories.RecordErrorDuplicate) {
			return domain.Model{}, fmt.Errorf("%w: model code %s is already registered", ErrValidation, code)
		}
		return domain.Model{}, mapStoreError(err)
	}
	s.logger(ctx, "directory.model.registered", map[string]any{"modelId": saved.ID, "code": saved.Code})
	return saved, nil
}

// guardCodeChange logs when an existing code changes; printed serials keep the old code.
func (s *directoryService) guardCodeChange(ctx context.Context, id, code string, factory bool) error {
	var previous string
	var err error
	if factory {
		var f domain.Factory
		f, err = s.repo.GetFactory(ctx, id)
		previous = f.Code
	} else {
		var m domain.Model
		m, err = s.repo.GetModel(ctx, id)
		previous = m.Code
	}
	switch {
	case err == nil:
	case repositories.IsRecordCode(err, repositories.RecordErrorNotFound):
		return nil
	default:
		return mapStoreError(err)
	}
	if previous != "" && previous != code {
		s.logger(ctx, "directory.code.changed", map[string]any{"id": id, "from": previous, "to": code})
	}
	return nil
}

func (s *directoryService) GetFactory(ctx context.Context, factoryID string) (domain.Factory, error) {
	factoryID = strings.TrimSpace(factoryID)
	if factoryID == "" {
		return domain.Factory{}, fmt.Errorf("%w: factory id is required", ErrValidation)
	}
	factory, err := s.repo.GetFactory(ctx, factoryID)
	if err != nil {
		return domain.Factory{}, mapStoreError(err)
	}
	return factory, nil
}

func (s *directoryService) GetModel(ctx context.Context, modelID string) (domain.Model, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return domain.Model{}, fmt.Errorf("%w: model id is required", ErrValidation)
	}
	model, err := s.repo.GetModel(ctx, modelID)
	if err != nil {
		return domain.Model{}, mapStoreError(err)
	}
	return model, nil
}

func (s *directoryService) ListFactories(ctx context.Context) ([]domain.Factory, error) {
	factories, err := s.repo.ListFactories(ctx)
	return factories, mapStoreError(err)
}

func (s *directoryService) ListModels(ctx context.Context) ([]domain.Model, error) {
	models, err := s.repo.ListModels(ctx)
	return models, mapStoreError(err)
}

func normalizeDirectoryEntry(code, name string) (string, string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !domain.ValidCode(code) {
		return "", "", fmt.Errorf("%w: code %q must be 1-16 alphanumeric characters", ErrValidation, code)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = code
	}
	return code, name, nil
}
