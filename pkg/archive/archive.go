// Package archive stores finished call transcripts as objects.
//
// Two backends are provided: [Local] writes under a directory on disk and
// [S3] writes to Amazon S3 or any S3-compatible object store (MinIO, R2).
// Missing objects are reported with an error wrapping [os.ErrNotExist] by
// both backends.
package archive

import (
	"context"
	"path"
	"time"
)

// Archive is a flat key/value object store. Keys are slash separated.
type Archive interface {
	// Put stores data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}

// Key returns the archive key of the transcript of callID finished at t:
// transcripts/<yyyy-mm-dd>/<call-id>.jsonl (UTC date).
func Key(callID string, t time.Time) string {
	return path.Join("transcripts", t.UTC().Format(time.DateOnly), callID+".jsonl")
}

// cleanKey normalizes key as a rooted path so ".." elements cannot escape
// the store. It reports false for keys that name the root itself.
func cleanKey(key string) (string, bool) {
	k := path.Clean("/" + key)[1:]
	return k, k != ""
}
