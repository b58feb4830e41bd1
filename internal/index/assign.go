package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuketrack/cuketrack/api"
	"github.com/cuketrack/cuketrack/internal/storage"
)

// ErrFilenameCollision is returned when a rename targets a name already held
// by another blob. The colliding report keeps its original name; nothing is
// overwritten.
var ErrFilenameCollision = errors.New("filename collision")

// AssignCanonicalName renames a report blob to its suggested filename and
// updates the metadata ID to match. Running it on an already-canonical name
// is a no-op. A taken target name fails with ErrFilenameCollision rather
// than clobbering the existing blob.
func AssignCanonicalName(ctx context.Context, store storage.Store, meta *api.ReportMetadata) (renamed bool, err error) {
	if meta.SuggestedFilename == "" {
		return false, nil
	}

	current := meta.ID + ".json"
	if current == meta.SuggestedFilename {
		return false, nil
	}

	if err := store.Rename(ctx, current, meta.SuggestedFilename); err != nil {
		var exists *storage.ErrAlreadyExists
		if errors.As(err, &exists) {
			return false, fmt.Errorf("%w: %s", ErrFilenameCollision, meta.SuggestedFilename)
		}
		return false, err
	}

	meta.ID = strings.TrimSuffix(meta.SuggestedFilename, ".json")
	return true, nil
}
