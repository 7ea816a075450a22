package cron

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"realityshop/internal/models"
)

const (
	reportBatchSize = 50
	// Telegram caps a message at 4096 characters.
	maxMessageLen = 3500
)

func (s *Scheduler) failedPaymentReport() {
	defer s.recoverFromPanic("failedPaymentReport")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	events, err := s.failures.FindUnreported(ctx, reportBatchSize)
	if err != nil {
		s.logger.Error("Failed to load unreported payments", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	sent := 0
	for _, chunk := range chunkReport(events) {
		if err := s.notifier.SendMessage(ctx, s.adminID, chunk.text); err != nil {
			s.logger.Error("Failed to send payment report", zap.Error(err))
			break
		}
		if err := s.failures.MarkReported(ctx, chunk.ids); err != nil {
			s.logger.Error("Failed to mark payments reported", zap.Uints("ids", chunk.ids), zap.Error(err))
			break
		}
		sent += len(chunk.ids)
	}

	s.logger.Info("Failed payment report sent", zap.Int("reported", sent), zap.Int("pending", len(events)-sent))
}

type reportChunk struct {
	text string
	ids  []uint
}

func chunkReport(events []models.PaymentEvent) []reportChunk {
	const header = "⚠️ *Платежи для ручной проверки*\n\n"

	var (
		chunks []reportChunk
		b      strings.Builder
		ids    []uint
	)
	flush := func() {
		if len(ids) > 0 {
			chunks = append(chunks, reportChunk{text: b.String(), ids: ids})
		}
		b.Reset()
		ids = nil
	}

	b.WriteString(header)
	for _, ev := range events {
		line := reportLine(ev)
		if len(ids) > 0 && b.Len()+len(line) > maxMessageLen {
			flush()
			b.WriteString(header)
		}
		b.WriteString(line)
		ids = append(ids, ev.ID)
	}
	flush()
	return chunks
}

func reportLine(ev models.PaymentEvent) string {
	key := ev.IdempotencyKey
	if ev.ProviderTxID == "" {
		key = ev.Provider + " (reference: " + ev.Raw + ")"
	}
	line := fmt.Sprintf("#%d %s `%s`\n", ev.ID, ev.Status, code(key))
	if ev.UserID != 0 {
		line += fmt.Sprintf("user `%d`, server `%s`, plan `%s`\n", ev.UserID, code(ev.ServerID), code(ev.PlanID))
	}
	if ev.LastError != "" {
		line += "`" + code(ev.LastError) + "`\n"
	}
	return line + "\n"
}

// code makes s safe inside a Markdown code span.
func code(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	if r := []rune(s); len(r) > 300 {
		s = string(r[:300]) + "..."
	}
	return s
}
