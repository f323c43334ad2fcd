//go:build !gcp

package artifacts

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (BlobStore, error) {
	return nil, fmt.Errorf("gcs storage is not enabled in this build (use -tags gcp)")
}
