package images

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/artifacts"
)

// Uploader stores generated image bytes in the shared artifact repository
// (the same store create_paste writes to) and hands back a fetchable URL,
// mirroring the teacher tools' freeimage.host/botbin upload step.
type Uploader struct {
	Repo    artifacts.Repository
	BaseURL string
}

// Upload stores data under the "image" artifact type and returns its URL.
func (u *Uploader) Upload(ctx context.Context, data []byte, mimeType, ext string) (string, error) {
	artifact := &artifacts.Artifact{
		Type:     "image",
		MimeType: mimeType,
		Filename: "image." + ext,
		Size:     int64(len(data)),
	}
	if err := u.Repo.StoreArtifact(ctx, artifact, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	if u.BaseURL == "" {
		return artifact.Id, nil
	}
	return strings.TrimRight(u.BaseURL, "/") + "/images/" + artifact.Id, nil
}
