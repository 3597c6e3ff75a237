package watch

import (
	"context"

	"github.com/pitabwire/util"
	"go.opentelemetry.io/otel/metric"

	"github.com/new1943/msgsource/bundle"
	"github.com/new1943/msgsource/engine"
	"github.com/new1943/msgsource/store"
	"github.com/new1943/msgsource/telemetry"
)

// PushHandler installs values delivered by a push store. Deliveries are not
// ordered, the last one applied wins. Empty or unparsable values leave the
// cached snapshot untouched.
type PushHandler struct {
	cache    *engine.Cache
	encoding bundle.Encoding
	updates  metric.Int64Counter
}

var _ store.ChangeHandler = (*PushHandler)(nil)

func NewPushHandler(cache *engine.Cache, enc bundle.Encoding) *PushHandler {
	return &PushHandler{
		cache:    cache,
		encoding: enc,
		updates: telemetry.DimensionlessMeasure(instrumentationName, "/watch_updates",
			"Snapshots replaced by the watch path"),
	}
}

func (h *PushHandler) OnChange(ctx context.Context, key, value string) {
	log := util.Log(ctx).WithField("key", key).WithField("phase", "push")

	if value == "" {
		log.Debug("ignoring empty message bundle push")
		return
	}

	snap, err := bundle.Load(key, value, 0, h.encoding)
	if err != nil {
		log.WithError(err).Error("dropping message bundle push that does not parse")
		return
	}

	h.cache.Install(snap)
	h.updates.Add(ctx, 1)
	log.Info("message bundle push applied")
}
