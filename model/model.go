// Package model defines the entities that take part in reconciliation:
// lists, the items they contain, and the images attached to items.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Field limits.
const (
	MaxListNameLength        = 100
	MaxItemTitleLength       = 200
	MaxItemDescriptionLength = 50000
	MinItemQuantity          = 1
)

// Kind names an entity kind.
type Kind string

const (
	KindList  Kind = "list"
	KindItem  Kind = "item"
	KindImage Kind = "image"
)

// NewID returns a fresh, globally unique entity id.
func NewID() string {
	return uuid.NewString()
}

// List is a named, ordered collection of items. Lists are archived rather
// than deleted in the common case.
type List struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	OrderNumber int       `json:"orderNumber" yaml:"orderNumber"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	ModifiedAt  time.Time `json:"modifiedAt" yaml:"modifiedAt"`
	Archived    bool      `json:"archived" yaml:"archived"`
}

func (l List) EntityID() string        { return l.ID }
func (l List) EntityKind() Kind        { return KindList }
func (l List) ParentID() string        { return "" }
func (l List) Order() int              { return l.OrderNumber }
func (l List) LastModified() time.Time { return l.ModifiedAt }
func (l List) Label() string           { return l.Name }

// Item belongs to exactly one list.
type Item struct {
	ID          string    `json:"id" yaml:"id"`
	ListID      string    `json:"listId" yaml:"listId"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Quantity    int       `json:"quantity" yaml:"quantity"`
	OrderNumber int       `json:"orderNumber" yaml:"orderNumber"`
	CrossedOut  bool      `json:"crossedOut" yaml:"crossedOut"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	ModifiedAt  time.Time `json:"modifiedAt" yaml:"modifiedAt"`
}

func (i Item) EntityID() string        { return i.ID }
func (i Item) EntityKind() Kind        { return KindItem }
func (i Item) ParentID() string        { return i.ListID }
func (i Item) Order() int              { return i.OrderNumber }
func (i Item) LastModified() time.Time { return i.ModifiedAt }
func (i Item) Label() string           { return i.Title }

// Image is an opaque binary payload attached to an item. Payloads are never
// diffed byte by byte; Digest is used to compare them.
type Image struct {
	ID          string `json:"id" yaml:"id"`
	ItemID      string `json:"itemId" yaml:"itemId"`
	Data        []byte `json:"data" yaml:"data"`
	OrderNumber int    `json:"orderNumber" yaml:"orderNumber"`
}

func (im Image) EntityID() string        { return im.ID }
func (im Image) EntityKind() Kind        { return KindImage }
func (im Image) ParentID() string        { return im.ItemID }
func (im Image) Order() int              { return im.OrderNumber }
func (im Image) LastModified() time.Time { return time.Time{} }
func (im Image) Label() string           { return "image " + shortID(im.ID) }

// Digest returns the hex SHA-256 of the payload.
func (im Image) Digest() string {
	sum := sha256.Sum256(im.Data)
	return hex.EncodeToString(sum[:])
}

// Clone returns a copy that does not share the payload buffer.
func (im Image) Clone() Image {
	out := im
	if im.Data != nil {
		out.Data = append([]byte(nil), im.Data...)
	}
	return out
}

// Entity is implemented by List, Item and Image.
type Entity interface {
	EntityID() string
	EntityKind() Kind
	ParentID() string
	Order() int
	LastModified() time.Time
	Label() string
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
