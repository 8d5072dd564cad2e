// Package inventory merges product rows from several catalog sources into
// one typed list, deduplicated by product name.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"florapos/internal/domain"
	"florapos/internal/money"
)

var ErrNoSource = errors.New("no catalog source could be read")

type field int

const (
	fieldCode field = iota
	fieldName
	fieldSKU
	fieldPrice
	fieldStock
	fieldCategory
	fieldGeneral
	fieldSubOptions
	fieldWPID
	fieldSlug
	fieldImage
	fieldSEOTitle
	fieldSEODescription
	fieldDescription
)

type alias struct {
	field field
	rank  int
}

// fieldAliases lists the accepted column names per field. When a row carries
// several aliases for one field, the earliest non-empty one wins.
var fieldAliases = []struct {
	field field
	names []string
}{
	{fieldCode, []string{"code", "item code", "barcode"}},
	{fieldName, []string{"name", "product name", "product", "title"}},
	{fieldSKU, []string{"sku"}},
	{fieldPrice, []string{"price", "list price", "listprice", "regular price"}},
	{fieldStock, []string{"stock", "stock quantity", "qty", "quantity"}},
	{fieldCategory, []string{"category", "categories"}},
	{fieldGeneral, []string{"general", "is general"}},
	{fieldSubOptions, []string{"sub options", "suboptions", "options"}},
	{fieldWPID, []string{"wp id", "wordpress id"}},
	{fieldSlug, []string{"slug"}},
	{fieldImage, []string{"image url", "image", "images"}},
	{fieldSEOTitle, []string{"seo title"}},
	{fieldSEODescription, []string{"seo description"}},
	{fieldDescription, []string{"description"}},
}

var knownColumns = func() map[string]alias {
	out := make(map[string]alias)
	for _, fa := range fieldAliases {
		for rank, name := range fa.names {
			out[name] = alias{field: fa.field, rank: rank}
		}
	}
	return out
}()

func columnKey(col string) string {
	col = strings.ToLower(strings.TrimSpace(col))
	col = strings.NewReplacer("_", " ", "-", " ").Replace(col)
	return strings.Join(strings.Fields(col), " ")
}

// Normalize maps a raw row onto an InventoryItem. Columns it does not
// recognize are kept in Extra under their original name.
func Normalize(row Row, source string, generalCategories map[string]bool) domain.InventoryItem {
	item := domain.InventoryItem{Source: source}

	type pick struct {
		rank int
		val  string
	}
	picked := make(map[field]pick)
	for col, raw := range row {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		a, known := knownColumns[columnKey(col)]
		if !known {
			if item.Extra == nil {
				item.Extra = make(map[string]string)
			}
			item.Extra[col] = val
			continue
		}
		if prev, ok := picked[a.field]; ok && prev.rank <= a.rank {
			continue
		}
		picked[a.field] = pick{rank: a.rank, val: val}
	}

	general := false
	for f, p := range picked {
		val := p.val
		switch f {
		case fieldCode:
			item.Code = val
		case fieldName:
			item.Name = val
		case fieldSKU:
			item.SKU = val
		case fieldPrice:
			if cents, err := money.Parse(val); err == nil {
				item.ListPriceCents = cents
			}
		case fieldStock:
			if n, err := strconv.Atoi(val); err == nil {
				item.Stock = n
			}
		case fieldCategory:
			item.Category = val
		case fieldGeneral:
			general = truthy(val)
		case fieldSubOptions:
			item.SubOptions = splitList(val)
		case fieldWPID:
			item.WPID = val
		case fieldSlug:
			item.Slug = val
		case fieldImage:
			item.ImageURL = val
		case fieldSEOTitle:
			item.SEOTitle = val
		case fieldSEODescription:
			item.SEODescription = val
		case fieldDescription:
			item.Description = val
		}
	}

	if item.Code == "" {
		item.Code = item.SKU
	}
	item.IsGeneral = general || generalCategories[strings.ToLower(item.Category)]
	return item
}

// Merge keeps the first item per case-insensitive trimmed name. Items
// without a name cannot be deduplicated and are dropped.
func Merge(groups ...[]domain.InventoryItem) []domain.InventoryItem {
	seen := make(map[string]bool)
	merged := make([]domain.InventoryItem, 0, 256)
	for _, group := range groups {
		for _, item := range group {
			key := strings.ToLower(strings.TrimSpace(item.Name))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, item)
		}
	}
	return merged
}

// Project fetches every source in order and merges the result. A failing
// source is skipped; it is an error only when every source fails.
func Project(ctx context.Context, sources []Source, generalCategories map[string]bool, logger *slog.Logger) ([]domain.InventoryItem, error) {
	groups := make([][]domain.InventoryItem, 0, len(sources))
	var lastErr error
	for _, src := range sources {
		rows, err := src.Fetch(ctx)
		if err != nil {
			lastErr = err
			logger.Warn("catalog source failed, skipping",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		items := make([]domain.InventoryItem, 0, len(rows))
		unnamed := 0
		for _, row := range rows {
			item := Normalize(row, src.Name(), generalCategories)
			if strings.TrimSpace(item.Name) == "" {
				unnamed++
				logger.Warn("catalog row has no name, dropped",
					slog.String("source", src.Name()),
					slog.String("code", item.Code),
				)
				continue
			}
			items = append(items, item)
		}
		if unnamed > 0 {
			logger.Warn("catalog source rows dropped",
				slog.String("source", src.Name()),
				slog.Int("unnamed", unnamed),
				slog.Int("kept", len(items)),
			)
		}
		groups = append(groups, items)
	}
	if len(sources) > 0 && len(groups) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoSource, lastErr)
	}
	return Merge(groups...), nil
}

// GeneralCategories builds the lookup set used by Normalize.
func GeneralCategories(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, name := range names {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			out[name] = true
		}
	}
	return out
}

func truthy(val string) bool {
	switch strings.ToLower(val) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func splitList(val string) []string {
	sep := ","
	if strings.Contains(val, "|") {
		sep = "|"
	}
	parts := strings.Split(val, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
