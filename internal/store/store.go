// Package store persists the client's bearer credential.
package store

import "context"

// CredentialSlot is the name of the single slot holding the raw credential.
const CredentialSlot = "token"

// CredentialStore defines the persisted credential slot.
type CredentialStore interface {
	// Load returns the stored credential. ok is false when the slot is empty.
	Load(ctx context.Context) (raw string, ok bool, err error)

	// Save replaces the stored credential.
	Save(ctx context.Context, raw string) error

	// Clear empties the slot. Clearing an empty slot is not an error.
	Clear(ctx context.Context) error
}
