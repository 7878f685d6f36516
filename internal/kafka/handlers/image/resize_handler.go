package image

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-store/internal/model"
	"github.com/aliskhannn/image-store/internal/xerrors"
)

// service defines the interface for regenerating derivatives.
type service interface {
	Resize(ctx context.Context, id string, width, height int) (model.Image, error)
}

// ResizeHandler handles Kafka messages carrying resize commands.
type ResizeHandler struct {
	service service
}

// NewResizeHandler creates a new handler with the given service.
func NewResizeHandler(s service) *ResizeHandler {
	return &ResizeHandler{service: s}
}

// Handle decodes a resize command and applies it. Commands that can never
// succeed (malformed, invalid size, unknown image) are logged and reported as
// handled so the consumer commits them instead of retrying.
func (h *ResizeHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var cmd model.ResizeCommand
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		zlog.Logger.Warn().Err(err).Str("message", string(msg.Value)).Msg("dropping malformed resize command")
		return nil
	}

	img, err := h.service.Resize(ctx, cmd.ContentID, cmd.Width, cmd.Height)
	if err != nil {
		switch xerrors.KindOf(err) {
		case xerrors.KindNotFound, xerrors.KindInvalidParameter:
			zlog.Logger.Warn().Err(err).Str("content_id", cmd.ContentID).Msg("dropping resize command")
			return nil
		}

		return fmt.Errorf("resize %s: %w", cmd.ContentID, err)
	}

	zlog.Logger.Info().
		Str("content_id", img.ContentID).
		Int("width", img.Width).
		Int("height", img.Height).
		Msg("resize command applied")

	return nil
}
