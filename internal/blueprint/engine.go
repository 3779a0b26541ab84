package blueprint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/observability/metrics"
)

const (
	// PermalinkPattern is written to every new site
	PermalinkPattern = "/%postname%/"
	// MenuName and MenuLocation identify the generated navigation menu
	MenuName     = "Primary Menu"
	MenuLocation = "primary"

	sourceTTL = 10 * time.Minute
)

// Engine renders blueprints into page trees. Blueprint sources are cached
// after their first read.
type Engine struct {
	catalog *Catalog
	sources *ristretto.Cache[string, string]
	logger  *slog.Logger
}

func NewEngine(catalog *Catalog, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sources, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 1000,
		MaxCost:     8 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("blueprint cache: %w", err)
	}
	return &Engine{catalog: catalog, sources: sources, logger: logger}, nil
}

// Catalog exposes the blueprint listing
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Apply resolves blueprintID and renders it with meta. It never fails: an
// unknown or broken blueprint yields the Home/About/Contact fallback.
func (e *Engine) Apply(blueprintID string, meta map[string]string) domain.PageTree {
	if blueprintID == "" {
		blueprintID = DefaultID
	}
	info, err := e.catalog.Lookup(blueprintID)
	if err != nil {
		e.logger.Warn("blueprint not found, using fallback pages", slog.String("blueprint", blueprintID))
		metrics.ObserveBlueprint(blueprintID, "fallback")
		return Fallback(blueprintID, meta)
	}

	tree := domain.PageTree{
		BlueprintID: blueprintID,
		SiteTitle:   fieldOr(meta, "businessName"),
		Tagline:     meta["description"],
	}
	if info.File == "" {
		tree.Pages = DefaultPages(meta)
		metrics.ObserveBlueprint(blueprintID, "builtin")
		return tree
	}

	pages, err := e.render(info, meta)
	if err != nil {
		e.logger.Warn("blueprint render failed, using fallback pages",
			slog.String("blueprint", blueprintID),
			slog.String("error", err.Error()),
		)
		metrics.ObserveBlueprint(blueprintID, "fallback")
		return Fallback(blueprintID, meta)
	}
	tree.Pages = e.singleFrontPage(blueprintID, pages)
	metrics.ObserveBlueprint(blueprintID, "catalog")
	return tree
}

func (e *Engine) render(info domain.BlueprintInfo, meta map[string]string) ([]domain.PageDescriptor, error) {
	source, ok := e.sources.Get(info.ID)
	if !ok {
		var err error
		source, err = e.catalog.Source(info)
		if err != nil {
			return nil, err
		}
		e.sources.SetWithTTL(info.ID, source, int64(len(source)), sourceTTL)
	}
	return parsePages(Substitute(source, meta))
}

// singleFrontPage keeps only the last page marked front, matching the
// platform where the last page_on_front write wins.
func (e *Engine) singleFrontPage(blueprintID string, pages []domain.PageDescriptor) []domain.PageDescriptor {
	last := -1
	marked := 0
	for i, p := range pages {
		if p.IsFrontPage {
			last = i
			marked++
		}
	}
	if marked > 1 {
		e.logger.Warn("blueprint marks several front pages, keeping the last",
			slog.String("blueprint", blueprintID),
			slog.Int("marked", marked),
		)
		for i := range pages {
			pages[i].IsFrontPage = i == last
		}
	}
	return pages
}

// Close releases the source cache
func (e *Engine) Close() {
	e.sources.Close()
}

// Published records what Publish created on the platform
type Published struct {
	PageIDs     []int64
	MenuID      int64
	FrontPageID int64
}

// Publish creates every page of tree in order, a primary menu with one
// entry per page, and the site settings. It stops at the first failing
// call; pages created before the failure stay on the site.
func Publish(ctx context.Context, platform domain.SitePlatform, siteID int64, tree domain.PageTree) (Published, error) {
	var out Published
	items := make([]domain.MenuItem, 0, len(tree.Pages))
	for _, page := range tree.Pages {
		id, err := platform.CreatePage(ctx, siteID, page)
		if err != nil {
			return out, fmt.Errorf("create page %q: %w", page.Title, err)
		}
		out.PageIDs = append(out.PageIDs, id)
		items = append(items, domain.MenuItem{Title: page.Title, PageID: id})
		if page.IsFrontPage {
			out.FrontPageID = id
		}
	}

	menuID, err := platform.CreateMenu(ctx, siteID, MenuName, MenuLocation, items)
	if err != nil {
		return out, fmt.Errorf("create menu: %w", err)
	}
	out.MenuID = menuID

	settings := domain.SiteSettings{
		BlogName:         tree.SiteTitle,
		BlogDescription:  tree.Tagline,
		PermalinkPattern: PermalinkPattern,
		FrontPageID:      out.FrontPageID,
		PrimaryMenuID:    menuID,
	}
	if err := platform.UpdateSettings(ctx, siteID, settings); err != nil {
		return out, fmt.Errorf("update settings: %w", err)
	}
	return out, nil
}
