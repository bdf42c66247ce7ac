package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPolicy is returned when a write or publish policy name is not recognised.
var ErrInvalidPolicy = errors.New("invalid write policy")

// WritePolicy governs how a table write treats rows that already exist.
type WritePolicy int

const (
	// PolicySkip performs no write at all.
	PolicySkip WritePolicy = iota
	// PolicyInsert writes new rows and silently ignores conflicting ones.
	PolicyInsert
	// PolicyMerge writes new rows and merges into conflicting ones.
	PolicyMerge
)

func (p WritePolicy) String() string {
	switch p {
	case PolicySkip:
		return "skip"
	case PolicyInsert:
		return "insert"
	case PolicyMerge:
		return "merge"
	default:
		return fmt.Sprintf("WritePolicy(%d)", int(p))
	}
}

// ParseWritePolicy accepts skip|insert|merge plus the legacy dryrun and upsert names.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip", "dryrun", "dry-run", "":
		return PolicySkip, nil
	case "insert":
		return PolicyInsert, nil
	case "merge", "upsert":
		return PolicyMerge, nil
	default:
		return PolicySkip, fmt.Errorf("%w: %q (want skip, insert or merge)", ErrInvalidPolicy, s)
	}
}

// PublishPolicy governs what finalization does with the destination object store.
type PublishPolicy int

const (
	// PublishDryRun performs no network action.
	PublishDryRun PublishPolicy = iota
	// PublishVerifyOnly checks that the object exists with a matching size.
	PublishVerifyOnly
	// PublishCreate always uploads.
	PublishCreate
	// PublishCreateIfMissing uploads only when the object is absent.
	PublishCreateIfMissing
)

func (p PublishPolicy) String() string {
	switch p {
	case PublishDryRun:
		return "dry-run"
	case PublishVerifyOnly:
		return "verify-only"
	case PublishCreate:
		return "create"
	case PublishCreateIfMissing:
		return "create-if-missing"
	default:
		return fmt.Sprintf("PublishPolicy(%d)", int(p))
	}
}

// ParsePublishPolicy accepts the publish policy names as well as the generic
// skip|insert|merge vocabulary shared with the table policies:
// skip maps to dry-run, insert to create-if-missing and merge to create.
func ParsePublishPolicy(s string) (PublishPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dry-run", "dryrun", "skip":
		return PublishDryRun, nil
	case "verify-only", "verify", "check", "":
		return PublishVerifyOnly, nil
	case "create", "merge":
		return PublishCreate, nil
	case "create-if-missing", "create-if-needed", "insert":
		return PublishCreateIfMissing, nil
	default:
		return PublishDryRun, fmt.Errorf("%w: %q (want dry-run, verify-only, create or create-if-missing)", ErrInvalidPolicy, s)
	}
}
