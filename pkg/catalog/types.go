// ABOUTME: Item master data model shared by every catalog component
// ABOUTME: Records are values; helpers always return new collections

package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ItemType is the enumerated category of an item
type ItemType string

const (
	ItemGoods        ItemType = "goods"
	ItemService      ItemType = "service"
	ItemRawMaterial  ItemType = "raw_material"
	ItemFinishedGood ItemType = "finished_good"
	ItemConsumable   ItemType = "consumable"
	ItemAsset        ItemType = "asset"
)

// ItemTypes lists every known item type in display order
var ItemTypes = []ItemType{
	ItemGoods,
	ItemService,
	ItemRawMaterial,
	ItemFinishedGood,
	ItemConsumable,
	ItemAsset,
}

// ParseItemType converts a string into a known ItemType
func ParseItemType(s string) (ItemType, error) {
	norm := ItemType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range ItemTypes {
		if t == norm {
			return t, nil
		}
	}
	return "", &ValidationError{Field: "itemType", Reason: fmt.Sprintf("unknown item type %q", s)}
}

// Record is a single catalog item as held by the UI layer
type Record struct {
	ID           string    `json:"id"`              // Opaque stable identifier
	Code         string    `json:"code"`            // Human-visible item code
	Name         string    `json:"name"`            // Display name
	Status       bool      `json:"status"`          // Active flag
	ItemType     ItemType  `json:"itemType"`        // Category
	CreatedAt    time.Time `json:"createdAt"`       // Creation timestamp
	SortOrder    int       `json:"sortOrder"`       // Display order, unique in the working set
	Supplier     string    `json:"supplier"`        // Preferred supplier
	Manufacturer string    `json:"manufacturer"`    // Manufacturer name
	Barcode      string    `json:"barcode"`         // Scannable barcode
	Description  string    `json:"description"`     // Free text
	Unit         string    `json:"unit"`            // Unit of measure
	Image        string    `json:"image,omitempty"` // Inline image data URI
}

// StatusLabel renders the active flag the way exports show it
func (r Record) StatusLabel() string {
	if r.Status {
		return "Active"
	}
	return "Inactive"
}

// Delta is a persisted sort order change
type Delta struct {
	ID        string `json:"id"`
	SortOrder int    `json:"sortOrder"`
}

// IDs returns record identifiers in collection order
func IDs(records []Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

// Index maps record ids to records
func Index(records []Record) map[string]Record {
	idx := make(map[string]Record, len(records))
	for _, r := range records {
		idx[r.ID] = r
	}
	return idx
}

// SortBySortOrder returns a copy ordered by SortOrder ascending (stable)
func SortBySortOrder(records []Record) []Record {
	out := append([]Record(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SortOrder < out[j].SortOrder
	})
	return out
}

// ApplyDeltas returns a copy of records with the given sort orders applied
func ApplyDeltas(records []Record, deltas []Delta) []Record {
	if len(deltas) == 0 {
		return append([]Record(nil), records...)
	}

	orders := make(map[string]int, len(deltas))
	for _, d := range deltas {
		orders[d.ID] = d.SortOrder
	}

	out := make([]Record, len(records))
	for i, r := range records {
		if so, ok := orders[r.ID]; ok {
			r.SortOrder = so
		}
		out[i] = r
	}
	return out
}

// WithStatus returns a copy where the given ids carry the active flag
func WithStatus(records []Record, ids []string, active bool) []Record {
	set := toSet(ids)
	out := make([]Record, len(records))
	for i, r := range records {
		if _, ok := set[r.ID]; ok {
			r.Status = active
		}
		out[i] = r
	}
	return out
}

// Without returns a copy with the given ids removed
func Without(records []Record, ids []string) []Record {
	set := toSet(ids)
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if _, ok := set[r.ID]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// Replace returns a copy where the record with the same id is swapped in
func Replace(records []Record, rec Record) []Record {
	out := append([]Record(nil), records...)
	for i := range out {
		if out[i].ID == rec.ID {
			out[i] = rec
		}
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
