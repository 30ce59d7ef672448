package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
)

// conflictRetries bounds the re-read loop when a concurrent resolution wins a
// create-if-absent race.
const conflictRetries = 3

// ResolvedIdentity is the outcome of mapping one raw item onto canonical records.
type ResolvedIdentity struct {
	Brand          *domain.Brand
	Product        *domain.Product
	BrandCreated   bool
	ProductCreated bool
}

// MergeCandidate is a pair of brands whose normalized names look like the same
// entity. Candidates are advisory; merging is always a manual operation.
type MergeCandidate struct {
	BrandID    string  `json:"brandId"`
	BrandName  string  `json:"brandName"`
	OtherID    string  `json:"otherId"`
	OtherName  string  `json:"otherName"`
	Similarity float64 `json:"similarity"`
}

// IdentityService maps raw scraped brand/product names onto canonical records,
// creating them lazily and accumulating aliases.
type IdentityService struct {
	brands    domain.BrandRepository
	products  domain.ProductRepository
	inventory domain.InventoryRepository
	now       func() time.Time
}

// NewIdentityService creates an identity service over the given repositories.
func NewIdentityService(
	brands domain.BrandRepository,
	products domain.ProductRepository,
	inventory domain.InventoryRepository,
) *IdentityService {
	return &IdentityService{
		brands:    brands,
		products:  products,
		inventory: inventory,
		now:       time.Now,
	}
}

// Resolve maps a raw scraped item to (brand, product), creating canonical
// records as needed. Malformed identity fields return a NormalizationError so
// the caller can divert the item to the dead letter handler.
func (s *IdentityService) Resolve(ctx context.Context, item *domain.RawMenuItem) (*ResolvedIdentity, error) {
	brandKey, err := NormalizeName("brand", item.Brand)
	if err != nil {
		return nil, err
	}
	productKey, err := ProductKey(item.Name, item.Weight)
	if err != nil {
		return nil, err
	}

	brand, brandCreated, err := s.resolveBrand(ctx, brandKey, strings.TrimSpace(item.Brand))
	if err != nil {
		return nil, err
	}

	product, productCreated, err := s.resolveProduct(ctx, brand.ID, productKey, item)
	if err != nil {
		return nil, err
	}

	return &ResolvedIdentity{
		Brand:          brand,
		Product:        product,
		BrandCreated:   brandCreated,
		ProductCreated: productCreated,
	}, nil
}

// resolveBrand looks up a brand by its normalized name, creating it on a miss.
// A create that loses to a concurrent writer is retried as a re-read so two
// resolutions of a brand new to the system never produce two canonical rows.
func (s *IdentityService) resolveBrand(ctx context.Context, key, raw string) (*domain.Brand, bool, error) {
	for attempt := 0; ; attempt++ {
		brand, err := s.brands.GetByNormalizedName(ctx, key)
		if err == nil {
			if !brand.HasAlias(raw) {
				if err := s.brands.AddAlias(ctx, brand.ID, raw); err != nil {
					return nil, false, err
				}
				brand.Aliases = append(brand.Aliases, raw)
			}
			return brand, false, nil
		}
		if !errors.Is(err, domain.ErrBrandNotFound) {
			return nil, false, err
		}

		now := s.now()
		created := &domain.Brand{
			ID:             uuid.NewString(),
			Name:           raw,
			NormalizedName: key,
			Aliases:        []string{raw},
			IsVerified:     false,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		err = s.brands.Create(ctx, created)
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= conflictRetries {
			return nil, false, err
		}
	}
}

func (s *IdentityService) resolveProduct(ctx context.Context, brandID, key string, item *domain.RawMenuItem) (*domain.Product, bool, error) {
	seenAt := item.ScrapedAt
	if seenAt.IsZero() {
		seenAt = s.now()
	}

	for attempt := 0; ; attempt++ {
		product, err := s.products.GetByBrandAndName(ctx, brandID, key)
		if err == nil {
			if seenAt.After(product.LastSeenAt) {
				if err := s.products.TouchLastSeen(ctx, product.ID, seenAt); err != nil {
					return nil, false, err
				}
				product.LastSeenAt = seenAt
			}
			return product, false, nil
		}
		if !errors.Is(err, domain.ErrProductNotFound) {
			return nil, false, err
		}

		created := &domain.Product{
			ID:             uuid.NewString(),
			BrandID:        brandID,
			Name:           strings.TrimSpace(item.Name),
			NormalizedName: key,
			Category:       item.Category,
			Strain:         item.Strain,
			Weight:         item.Weight,
			THCRange:       item.THCRange,
			CBDRange:       item.CBDRange,
			FirstSeenAt:    seenAt,
			LastSeenAt:     seenAt,
		}
		err = s.products.Create(ctx, created)
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= conflictRetries {
			return nil, false, err
		}
	}
}

// MergeBrands manually folds the source brand into the destination: aliases
// move over, products and inventory rows are reassigned, and the source brand
// is deleted. When both brands carry a product with the same normalized name,
// the source duplicate is folded into the destination's row first — its
// inventory repoints there and the duplicate is removed — so reassignment
// never collides. Snapshots keep their original ids for audit. The operation
// is an operator action on quiesced brands; re-running a partially applied
// merge completes it.
func (s *IdentityService) MergeBrands(ctx context.Context, sourceID, destinationID string) error {
	if sourceID == "" || destinationID == "" || sourceID == destinationID {
		return domain.ErrInvalidRequest
	}

	source, err := s.brands.GetByID(ctx, sourceID)
	if err != nil {
		return err
	}
	destination, err := s.brands.GetByID(ctx, destinationID)
	if err != nil {
		return err
	}

	aliases := append([]string{source.Name}, source.Aliases...)
	for _, alias := range aliases {
		if alias == "" || destination.HasAlias(alias) {
			continue
		}
		if err := s.brands.AddAlias(ctx, destination.ID, alias); err != nil {
			return err
		}
		destination.Aliases = append(destination.Aliases, alias)
	}

	if err := s.foldDuplicateProducts(ctx, source.ID, destination.ID); err != nil {
		return err
	}
	if err := s.products.ReassignBrand(ctx, source.ID, destination.ID); err != nil {
		return err
	}
	if err := s.inventory.ReassignBrand(ctx, source.ID, destination.ID); err != nil {
		return err
	}
	return s.brands.Delete(ctx, source.ID)
}

// foldDuplicateProducts removes source products whose normalized name already
// exists under the destination brand, repointing their inventory rows at the
// destination's product so the later brand reassignment cannot collide.
func (s *IdentityService) foldDuplicateProducts(ctx context.Context, sourceID, destinationID string) error {
	sourceProducts, err := s.products.ListByBrand(ctx, sourceID)
	if err != nil {
		return err
	}

	for _, product := range sourceProducts {
		existing, err := s.products.GetByBrandAndName(ctx, destinationID, product.NormalizedName)
		if errors.Is(err, domain.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		if err := s.inventory.ReassignProduct(ctx, product.ID, existing.ID); err != nil {
			return err
		}
		if product.LastSeenAt.After(existing.LastSeenAt) {
			if err := s.products.TouchLastSeen(ctx, existing.ID, product.LastSeenAt); err != nil {
				return err
			}
		}
		if err := s.products.Delete(ctx, product.ID); err != nil {
			return err
		}
	}
	return nil
}

// SuggestMerges scores every brand pair by Jaro-Winkler similarity of their
// normalized names and returns pairs at or above the threshold, most similar
// first. It never merges anything itself.
func (s *IdentityService) SuggestMerges(ctx context.Context, threshold float64) ([]MergeCandidate, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.92
	}

	brands, err := s.brands.List(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []MergeCandidate
	for i := 0; i < len(brands); i++ {
		for j := i + 1; j < len(brands); j++ {
			similarity := matchr.JaroWinkler(brands[i].NormalizedName, brands[j].NormalizedName, false)
			if similarity < threshold {
				continue
			}
			candidates = append(candidates, MergeCandidate{
				BrandID:    brands[i].ID,
				BrandName:  brands[i].Name,
				OtherID:    brands[j].ID,
				OtherName:  brands[j].Name,
				Similarity: similarity,
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	return candidates, nil
}
