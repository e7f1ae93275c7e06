// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 期限切れのOAuth stateと、保持期間（デフォルト90日）を超過した既読通知を削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// HandshakePurger は期限切れOAuth stateの削除インターフェース。
type HandshakePurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// NotificationPurger は古い既読通知の削除インターフェース。
type NotificationPurger interface {
	DeleteSeenOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	handshakes    HandshakePurger
	notifications NotificationPurger
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 既読通知の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(handshakes HandshakePurger, notifications NotificationPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		handshakes:    handshakes,
		notifications: notifications,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 90,
	}
}

// Run はOAuth stateと既読通知を削除する。
// 一方が失敗してももう一方は実行し、エラーはまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	var errs []error

	handshakes, err := j.handshakes.DeleteExpired(ctx, start)
	if err != nil {
		j.logger.Error("OAuth stateのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("OAuth stateの削除に失敗: %w", err))
	}

	cutoff := start.AddDate(0, 0, -j.RetentionDays)
	notifications, err := j.notifications.DeleteSeenOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("通知のクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		errs = append(errs, fmt.Errorf("通知の削除に失敗: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_handshakes", handshakes),
		slog.Int64("deleted_notifications", notifications),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行し、ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.logger.Info("クリーンアップワーカーを開始します", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// エラーはRun内でログ出力済み
		_ = j.Run(ctx)

		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップワーカーを停止します")
			return
		case <-ticker.C:
		}
	}
}
