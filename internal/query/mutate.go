package query

import (
	"context"
	"log/slog"

	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/notify"
)

// MutationSpec は書き込み操作の定義。
type MutationSpec struct {
	Resource  string
	Operation string
	// Invalidates は成功時に無効化するリソース名。nilの場合はInvalidationTargets(Resource)を使用する。
	Invalidates []string
	// SuccessMessage は成功時の通知メッセージ。空の場合は成功通知を発行しない。
	SuccessMessage string
}

// 書き込み結果のラベル
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Mutate は書き込みを1回実行する。
// 成功時は対象リソースのキャッシュを無効化して成功通知を発行する。
// 失敗時はキャッシュを変更せず、エラーを分類した失敗通知を発行してエラーをそのまま返す。
// 再試行および同一書き込みの集約は行わない。notifierはnilでもよい。
func Mutate[R any](ctx context.Context, c *Cache, notifier notify.Notifier, spec MutationSpec, do func(ctx context.Context) (R, error)) (R, error) {
	res, err := do(ctx)
	if err != nil {
		c.metrics.RecordMutation(spec.Resource, spec.Operation, OutcomeFailure)
		c.logger.Warn("書き込みに失敗しました",
			slog.String("resource", spec.Resource),
			slog.String("operation", spec.Operation),
			slog.String("kind", string(model.KindOf(err))),
			slog.String("error", err.Error()),
		)
		if notifier != nil {
			notifier.Notify(notify.Failure(spec.Resource, spec.Operation, err))
		}
		return res, err
	}

	targets := spec.Invalidates
	if targets == nil {
		targets = InvalidationTargets(spec.Resource)
	}
	c.Invalidate(targets...)
	c.metrics.RecordMutation(spec.Resource, spec.Operation, OutcomeSuccess)
	c.logger.Info("write succeeded",
		slog.String("resource", spec.Resource),
		slog.String("operation", spec.Operation),
		slog.Any("invalidated", targets),
	)

	if notifier != nil && spec.SuccessMessage != "" {
		notifier.Notify(notify.Success(spec.Resource, spec.Operation, spec.SuccessMessage))
	}
	return res, nil
}
