package device

import (
	"context"
	"fmt"
)

// BootKind tags the variant held by a BootOption.
type BootKind string

// Boot option variants.
const (
	BootKindDefault  BootKind = "default"
	BootKindCold     BootKind = "cold_boot"
	BootKindSnapshot BootKind = "snapshot"
)

// BootOption describes how a virtual device instance should be started.
// It is a tagged union: SnapshotID is only meaningful for BootKindSnapshot.
type BootOption struct {
	Kind       BootKind `json:"kind"`
	SnapshotID string   `json:"snapshot_id,omitempty"`
}

// DefaultBoot starts the device the way it normally starts.
func DefaultBoot() BootOption { return BootOption{Kind: BootKindDefault} }

// ColdBoot starts the device without loading any snapshot.
func ColdBoot() BootOption { return BootOption{Kind: BootKindCold} }

// SnapshotBoot starts the device from the named snapshot.
func SnapshotBoot(snapshotID string) BootOption {
	return BootOption{Kind: BootKindSnapshot, SnapshotID: snapshotID}
}

// Validate checks that the tag and payload agree.
func (b BootOption) Validate() error {
	switch b.Kind {
	case BootKindDefault, BootKindCold:
		if b.SnapshotID != "" {
			return fmt.Errorf("%w: %s carries a snapshot id", ErrInvalidBootOption, b.Kind)
		}
		return nil
	case BootKindSnapshot:
		if b.SnapshotID == "" {
			return fmt.Errorf("%w: snapshot id is required", ErrInvalidBootOption)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidBootOption, b.Kind)
	}
}

// String renders the option for logs.
func (b BootOption) String() string {
	if b.Kind == BootKindSnapshot {
		return "snapshot:" + b.SnapshotID
	}
	return string(b.Kind)
}

// BootActions are the start actions a virtual device exposes.
// The actions are implemented by provisioning sources; this package only
// selects which one to invoke.
type BootActions interface {
	BootDefault(ctx context.Context) error
	ColdBoot(ctx context.Context) error
	BootSnapshot(ctx context.Context, snapshotID string) error
}

// Boot invokes the action matching opt on a. It does not retry.
func Boot(ctx context.Context, a BootActions, opt BootOption) error {
	if err := opt.Validate(); err != nil {
		return err
	}
	switch opt.Kind {
	case BootKindCold:
		return a.ColdBoot(ctx)
	case BootKindSnapshot:
		return a.BootSnapshot(ctx, opt.SnapshotID)
	default:
		return a.BootDefault(ctx)
	}
}
