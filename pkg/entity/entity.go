// Package entity defines the contracts records must satisfy to be stored in a
// workspace. It carries no dependencies on the store internals so domain
// packages can embed Model without importing the persistence layer.
package entity

// Entity is a record carrying an integer identity. Identity 0 marks a
// transient record; stored records hold a positive identity that is unique
// within their type.
type Entity interface {
	EntityID() int
	SetEntityID(id int)
}

// Named is implemented by entities exposing a human readable name. The name
// is informational and never participates in identity.
type Named interface {
	EntityName() string
}

// Singleton marks a record type that has no identity and is stored once per
// type, e.g. settings. Later writes overwrite the stored instance.
type Singleton interface {
	SingletonEntity()
}

// Model is embedded by entity structs to satisfy Entity.
type Model struct {
	ID int `json:"id"`
}

// EntityID returns the record identity.
func (m *Model) EntityID() int { return m.ID }

// SetEntityID assigns the record identity.
func (m *Model) SetEntityID(id int) { m.ID = id }

// IsTransient reports whether e has not been assigned an identity yet.
func IsTransient(e Entity) bool {
	return e == nil || e.EntityID() == 0
}
