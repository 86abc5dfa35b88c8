// Package entity maps typed records onto the shared store. Every field of an
// entity lives at its own key, derived from the entity id and a static field
// descriptor, so independent server processes can read and write the same
// record without coordination.
package entity

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rylo-kin/sketchrelay/internal/store"
)

type Cardinality int

const (
	// One fields hold a single value with replace-whole-value semantics.
	One Cardinality = iota
	// Many fields are unordered string sets.
	Many
)

// Field describes one field of an entity kind. Descriptors are declared as
// package-level tables next to the model that owns them.
type Field struct {
	Name string
	Card Cardinality
}

// Entity is a handle on one record in the store. It carries no cached state;
// the store is the single source of truth.
type Entity struct {
	st store.Store
	id string
}

func New(st store.Store, id string) Entity {
	return Entity{st: st, id: id}
}

func (e Entity) ID() string { return e.id }

func (e Entity) key(f Field) string {
	return e.id + ":" + f.Name
}

// Get reads a single-value field. ok is false when the field is unset, which
// is distinct from any stored value.
func (e Entity) Get(ctx context.Context, f Field) (string, bool, error) {
	mustBe(f, One)
	return e.st.Get(ctx, e.key(f))
}

func (e Entity) Set(ctx context.Context, f Field, value string) error {
	mustBe(f, One)
	return e.st.Set(ctx, e.key(f), value)
}

// SetOnce writes a single-value field only if it is unset. The first writer
// wins; everyone else observes false.
func (e Entity) SetOnce(ctx context.Context, f Field, value string) (bool, error) {
	mustBe(f, One)
	return e.st.SetNX(ctx, e.key(f), value)
}

// Once claims a qualified one-shot marker under the field, e.g. a per-round
// transition gate. Exactly one caller per qualifier gets true.
func (e Entity) Once(ctx context.Context, f Field, qualifier string) (bool, error) {
	mustBe(f, One)
	return e.st.SetNX(ctx, e.key(f)+":"+qualifier, "1")
}

// Clear unsets a single-value field.
func (e Entity) Clear(ctx context.Context, f Field) error {
	mustBe(f, One)
	return e.st.Del(ctx, e.key(f))
}

// GetInt decodes a single-value field as an integer. Unset reads as (0, false).
func (e Entity) GetInt(ctx context.Context, f Field) (int64, bool, error) {
	v, ok, err := e.Get(ctx, f)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("field %s: %w", f.Name, err)
	}
	return n, true, nil
}

// Incr atomically adjusts an integer single-value field.
func (e Entity) Incr(ctx context.Context, f Field, delta int64) (int64, error) {
	mustBe(f, One)
	return e.st.IncrBy(ctx, e.key(f), delta)
}

// Add inserts into a multi-value field. Duplicates are idempotent.
func (e Entity) Add(ctx context.Context, f Field, member string) error {
	mustBe(f, Many)
	return e.st.SAdd(ctx, e.key(f), member)
}

// Remove deletes from a multi-value field. Missing members are a no-op.
func (e Entity) Remove(ctx context.Context, f Field, member string) error {
	mustBe(f, Many)
	return e.st.SRem(ctx, e.key(f), member)
}

func (e Entity) Members(ctx context.Context, f Field) ([]string, error) {
	mustBe(f, Many)
	return e.st.SMembers(ctx, e.key(f))
}

func mustBe(f Field, card Cardinality) {
	if f.Card != card {
		panic(fmt.Sprintf("entity: field %s used with wrong cardinality", f.Name))
	}
}
