package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
)

type CatalogUseCase struct {
	store     ports.IndexStore
	templates ports.TemplateRegistry
}

func NewCatalogUseCase(store ports.IndexStore, templates ports.TemplateRegistry) *CatalogUseCase {
	return &CatalogUseCase{store: store, templates: templates}
}

// ListNamespaces returns the namespaces that have a committed index.
func (uc *CatalogUseCase) ListNamespaces(ctx context.Context) ([]domain.IndexInfo, error) {
	infos, err := uc.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	if infos == nil {
		infos = []domain.IndexInfo{}
	}
	return infos, nil
}

func (uc *CatalogUseCase) TemplateNames() []string {
	return uc.templates.Names()
}

func (uc *CatalogUseCase) Templates() []domain.PromptTemplate {
	return uc.templates.Templates()
}
