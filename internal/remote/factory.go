package remote

import (
	"context"
	"fmt"

	"backhaul/internal/config"
	"backhaul/internal/core"
)

// NewRemote creates a remote from configuration, keyed by Type.
func NewRemote(ctx context.Context, cfg config.RemoteConfig) (core.Remote, error) {
	switch cfg.Type {
	case "filesystem":
		return NewFileSystemRemote(cfg.FSRoot)
	case "s3":
		return NewS3Remote(ctx, cfg)
	case "memory":
		return NewMemoryRemote(), nil
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
