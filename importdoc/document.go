// Package importdoc reads and writes the import document: a JSON or YAML
// file of lists with nested items and images. Documents are checked against
// an embedded JSON schema before they are converted to a model.Snapshot.
package importdoc

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/model"
)

// FormatVersion is the document version written by Encode.
const FormatVersion = 1

//go:embed schema.json
var schemaJSON string

// Format is a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", errors.NewValidationError(errors.OpImport, fmt.Errorf("unsupported document extension %q", filepath.Ext(path)))
	}
}

// Document is the import/export file.
type Document struct {
	Version    int        `json:"version,omitempty" yaml:"version,omitempty"`
	ExportedAt *time.Time `json:"exportedAt,omitempty" yaml:"exportedAt,omitempty"`
	Lists      []List     `json:"lists" yaml:"lists"`
}

// List is a list with its items nested.
type List struct {
	ID          string     `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string     `json:"name" yaml:"name"`
	OrderNumber *int       `json:"orderNumber,omitempty" yaml:"orderNumber,omitempty"`
	Archived    bool       `json:"archived,omitempty" yaml:"archived,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	ModifiedAt  *time.Time `json:"modifiedAt,omitempty" yaml:"modifiedAt,omitempty"`
	Items       []Item     `json:"items,omitempty" yaml:"items,omitempty"`
}

// Item is an item with its images nested.
type Item struct {
	ID          string     `json:"id,omitempty" yaml:"id,omitempty"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Quantity    int        `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	OrderNumber *int       `json:"orderNumber,omitempty" yaml:"orderNumber,omitempty"`
	CrossedOut  bool       `json:"crossedOut,omitempty" yaml:"crossedOut,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	ModifiedAt  *time.Time `json:"modifiedAt,omitempty" yaml:"modifiedAt,omitempty"`
	Images      []Image    `json:"images,omitempty" yaml:"images,omitempty"`
}

// Image carries its payload base64 encoded.
type Image struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Data        []byte `json:"data" yaml:"data"`
	OrderNumber *int   `json:"orderNumber,omitempty" yaml:"orderNumber,omitempty"`
}

// ToSnapshot flattens the document. Missing ids are generated, missing
// quantities become 1, missing order numbers follow document order and
// missing timestamps become now. The result is validated.
func (d *Document) ToSnapshot(now time.Time) (*model.Snapshot, error) {
	now = now.UTC()
	snap := &model.Snapshot{}

	for li, l := range d.Lists {
		list := model.List{
			ID:          orID(l.ID),
			Name:        l.Name,
			OrderNumber: orOrder(l.OrderNumber, li),
			Archived:    l.Archived,
			CreatedAt:   orTime(l.CreatedAt, now),
		}
		list.ModifiedAt = orTime(l.ModifiedAt, list.CreatedAt)
		snap.Lists = append(snap.Lists, list)

		for ii, it := range l.Items {
			item := model.Item{
				ID:          orID(it.ID),
				ListID:      list.ID,
				Title:       it.Title,
				Description: it.Description,
				Quantity:    it.Quantity,
				OrderNumber: orOrder(it.OrderNumber, ii),
				CrossedOut:  it.CrossedOut,
				CreatedAt:   orTime(it.CreatedAt, now),
			}
			if item.Quantity == 0 {
				item.Quantity = model.MinItemQuantity
			}
			item.ModifiedAt = orTime(it.ModifiedAt, item.CreatedAt)
			snap.Items = append(snap.Items, item)

			for mi, im := range it.Images {
				snap.Images = append(snap.Images, model.Image{
					ID:          orID(im.ID),
					ItemID:      item.ID,
					Data:        append([]byte(nil), im.Data...),
					OrderNumber: orOrder(im.OrderNumber, mi),
				})
			}
		}
	}

	if err := snap.Validate(); err != nil {
		return nil, errors.NewValidationError(errors.OpImport, err)
	}
	return snap, nil
}

// FromSnapshot builds a document from snap, nesting children under their
// parents in order. Orphans are dropped.
func FromSnapshot(snap *model.Snapshot, exportedAt time.Time) *Document {
	idx := snap.Index()
	exported := exportedAt.UTC()
	doc := &Document{Version: FormatVersion, ExportedAt: &exported, Lists: []List{}}

	lists := append([]model.List(nil), snap.Lists...)
	sort.SliceStable(lists, func(i, j int) bool {
		if lists[i].Archived != lists[j].Archived {
			return !lists[i].Archived
		}
		if lists[i].OrderNumber != lists[j].OrderNumber {
			return lists[i].OrderNumber < lists[j].OrderNumber
		}
		return lists[i].ID < lists[j].ID
	})

	for _, l := range lists {
		dl := List{
			ID:          l.ID,
			Name:        l.Name,
			OrderNumber: intPtr(l.OrderNumber),
			Archived:    l.Archived,
			CreatedAt:   timePtr(l.CreatedAt),
			ModifiedAt:  timePtr(l.ModifiedAt),
		}
		for _, it := range idx.ItemsByList[l.ID] {
			di := Item{
				ID:          it.ID,
				Title:       it.Title,
				Description: it.Description,
				Quantity:    it.Quantity,
				OrderNumber: intPtr(it.OrderNumber),
				CrossedOut:  it.CrossedOut,
				CreatedAt:   timePtr(it.CreatedAt),
				ModifiedAt:  timePtr(it.ModifiedAt),
			}
			for _, im := range idx.ImagesByItem[it.ID] {
				di.Images = append(di.Images, Image{
					ID:          im.ID,
					Data:        append([]byte(nil), im.Data...),
					OrderNumber: intPtr(im.OrderNumber),
				})
			}
			dl.Items = append(dl.Items, di)
		}
		doc.Lists = append(doc.Lists, dl)
	}
	return doc
}

func orID(id string) string {
	if id == "" {
		return model.NewID()
	}
	return id
}

func orOrder(n *int, pos int) int {
	if n == nil {
		return pos
	}
	return *n
}

func orTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil || t.IsZero() {
		return fallback
	}
	return t.UTC()
}

func intPtr(n int) *int { return &n }

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
