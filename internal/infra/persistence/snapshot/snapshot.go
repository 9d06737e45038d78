// Package snapshot encodes the protocol storage container for the persistent
// backends and recovers it from a primary copy with a backup fallback.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"dosecore/pkg/domain"
)

const (
	// Bucket names the primary row (SQL) holding the container.
	Bucket = "protocols"
	// BackupBucket holds the payload that Bucket carried before the last save.
	BackupBucket = "protocols.bak"
)

// ErrCorrupt is wrapped when neither the primary nor the backup payload decodes.
var ErrCorrupt = errors.New("snapshot: corrupt payload")

// Encode serializes shape for storage.
func Encode(shape domain.ProtocolStorageShape) ([]byte, error) {
	data, err := json.Marshal(shape)
	if err != nil {
		return nil, fmt.Errorf("encode protocols: %w", err)
	}
	return data, nil
}

// Decode restores the container. A nil primary, or one that fails to decode,
// falls back to backup. Two nil payloads yield an empty container.
func Decode(primary, backup []byte) (domain.ProtocolStorageShape, error) {
	if len(primary) == 0 && len(backup) == 0 {
		return Empty(), nil
	}
	var primaryErr error
	if len(primary) > 0 {
		shape, err := decodeOne(primary)
		if err == nil {
			return shape, nil
		}
		primaryErr = err
	}
	if len(backup) > 0 {
		shape, err := decodeOne(backup)
		if err == nil {
			return shape, nil
		}
		if primaryErr == nil {
			primaryErr = err
		}
	}
	return domain.ProtocolStorageShape{}, fmt.Errorf("%w: %w", ErrCorrupt, primaryErr)
}

// Empty returns a container with no records.
func Empty() domain.ProtocolStorageShape {
	return domain.ProtocolStorageShape{Protocols: []domain.ProtocolRecord{}}
}

func decodeOne(data []byte) (domain.ProtocolStorageShape, error) {
	var shape domain.ProtocolStorageShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return domain.ProtocolStorageShape{}, err
	}
	if shape.Protocols == nil {
		shape.Protocols = []domain.ProtocolRecord{}
	}
	return shape, nil
}
