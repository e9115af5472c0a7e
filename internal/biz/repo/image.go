package repo

import "context"

// ImageRepo provides images for random-image requests
type ImageRepo interface {
	RandomImage(ctx context.Context) ([]byte, error)
}
