package session

import (
	"context"
	"log/slog"
	"slices"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
)

// Archive keeps a copy of the transcript outside of the process.
type Archive interface {
	SaveMessages(ctx context.Context, messages []models.Message) error
}

// ArchiveTo saves every published snapshot that holds no pending message into a. Snapshots taken while a reply
// streams are skipped, the final one is saved once the reply is resolved. The returned function stops
// archiving.
func (s *Session) ArchiveTo(a Archive) func() {
	return s.transcript.Subscribe(func(snap Snapshot) {
		if slices.ContainsFunc(snap, models.Message.Pending) {
			return
		}
		if err := a.SaveMessages(context.Background(), snap); err != nil {
			s.logger.Error("Failed to archive transcript", slog.String(errLoggerKey, err.Error()))
		}
	})
}
