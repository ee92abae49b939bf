// Package emitter delivers live progress from a measurement run.
package emitter

import (
	"time"

	"github.com/netmeasure/speedster/pkg/model"
	"go.uber.org/zap"
)

// Progress is one live sample of an in-flight phase.
type Progress struct {
	Bytes              int64
	Elapsed            time.Duration
	SpeedBitsPerSecond float64
}

// Emitter receives run lifecycle events. Implementations must not block:
// progress events are delivered on the sampling goroutine.
type Emitter interface {
	OnPhaseStart(model.Phase)
	OnProgress(model.Phase, Progress)
	OnPhaseComplete(model.Phase, Progress)
	OnError(model.Phase, error)
}

// LogEmitter writes run events to the global zap logger.
type LogEmitter struct{}

func (e *LogEmitter) OnPhaseStart(phase model.Phase) {
	zap.L().Sugar().Infof("%s: starting", phase)
}

func (e *LogEmitter) OnProgress(phase model.Phase, p Progress) {
	zap.L().Sugar().Infof("%s: %.2f Mb/s (%d bytes, %.1fs)",
		phase, p.SpeedBitsPerSecond/1e6, p.Bytes, p.Elapsed.Seconds())
}

func (e *LogEmitter) OnPhaseComplete(phase model.Phase, p Progress) {
	zap.L().Sugar().Infof("%s: complete, %.2f Mb/s", phase, p.SpeedBitsPerSecond/1e6)
}

func (e *LogEmitter) OnError(phase model.Phase, err error) {
	zap.L().Sugar().Errorf("%s: error (%v)", phase, err)
}

// NullEmitter discards all events.
type NullEmitter struct{}

func (NullEmitter) OnPhaseStart(model.Phase) {}
func (NullEmitter) OnProgress(model.Phase, Progress) {}
func (NullEmitter) OnPhaseComplete(model.Phase, Progress) {}
func (NullEmitter) OnError(model.Phase, error) {}
