// Package asset defines the rentable unit tracked by the registry and the
// state it moves through.
package asset

import (
	"encoding/json"
	"fmt"

	"github.com/xraph/rental/id"
	"github.com/xraph/rental/types"
)

// AccountID identifies an authenticated account, e.g. "bob.testnet".
type AccountID string

// Kind tags the variant of a State.
type Kind string

const (
	KindAvailable  Kind = "available"
	KindInUse      Kind = "in_use"
	KindInspection Kind = "inspection"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindAvailable, KindInUse, KindInspection:
		return true
	}
	return false
}

// State is the tagged union Available | InUse(holder) | Inspection(holder).
// Holder is empty exactly when Kind is KindAvailable.
type State struct {
	Kind   Kind      `json:"kind"`
	Holder AccountID `json:"holder,omitempty"`
}

// Available returns the free state.
func Available() State { return State{Kind: KindAvailable} }

// InUse returns the state of an asset ridden by holder.
func InUse(holder AccountID) State { return State{Kind: KindInUse, Holder: holder} }

// Inspection returns the state of an asset being inspected by holder.
func Inspection(holder AccountID) State { return State{Kind: KindInspection, Holder: holder} }

// IsAvailable reports whether the asset is free.
func (s State) IsAvailable() bool { return s.Kind == KindAvailable }

// User returns the holder if the state is InUse.
func (s State) User() (AccountID, bool) {
	if s.Kind != KindInUse {
		return "", false
	}
	return s.Holder, true
}

// Inspector returns the holder if the state is Inspection.
func (s State) Inspector() (AccountID, bool) {
	if s.Kind != KindInspection {
		return "", false
	}
	return s.Holder, true
}

// Validate checks that the tag and the holder agree.
func (s State) Validate() error {
	switch s.Kind {
	case KindAvailable:
		if s.Holder != "" {
			return fmt.Errorf("asset: available state carries holder %q", s.Holder)
		}
	case KindInUse, KindInspection:
		if s.Holder == "" {
			return fmt.Errorf("asset: %s state without holder", s.Kind)
		}
	default:
		return fmt.Errorf("asset: unknown state kind %q", s.Kind)
	}
	return nil
}

func (s State) String() string {
	if s.Kind == KindAvailable {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Holder)
}

// UnmarshalJSON implements json.Unmarshaler and rejects malformed states.
func (s *State) UnmarshalJSON(data []byte) error {
	type raw State
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	st := State(r)
	if err := st.Validate(); err != nil {
		return err
	}
	*s = st
	return nil
}

// Asset is one rentable unit. Index is stable for the life of the registry.
type Asset struct {
	types.Entity
	Index   int   `json:"index"`
	State   State `json:"state"`
	Version int64 `json:"version"`
}

// Registry is the one-row record written by initialization. Its presence
// distinguishes an initialized empty registry from an uninitialized one.
type Registry struct {
	types.Entity
	ID   id.RegistryID `json:"id"`
	Size int           `json:"size"`
}
