package simulate

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/tremor/pkg/logger"
)

// Verification errors.
var (
	ErrMisclassified = errors.New("devices misclassified")
	ErrNoWindows     = errors.New("no windows analysed")
)

// judge marks an outcome correct when the majority of its windows agree
// with the device kind.
func judge(o Outcome) Outcome {
	if o.Err != nil || o.Windows == 0 {
		o.Correct = false
		return o
	}
	positive := o.Positive*2 > o.Windows
	o.Correct = positive == (o.Device.Kind == KindTremor)
	return o
}

// verifyOutcomes judges each device, fills the verdict counters and
// returns an error when any device failed or was misclassified.
func verifyOutcomes(ctx context.Context, outcomes []Outcome, stats *Stats) error {
	log := logger.Get().Named("simulate")
	for i := range outcomes {
		outcomes[i] = judge(outcomes[i])
		o := outcomes[i]
		stats.WindowsAnalysed += o.Windows
		switch {
		case o.Err != nil:
			stats.Failed++
			log.Warn(ctx, "device failed",
				logger.String("device_id", o.Device.ID),
				logger.Error(o.Err),
			)
		case o.Correct:
			stats.Correct++
		default:
			stats.Incorrect++
			log.Warn(ctx, "device misclassified",
				logger.String("device_id", o.Device.ID),
				logger.String("kind", o.Device.Kind),
				logger.String("format", o.Device.Format),
				logger.Int("windows", o.Windows),
				logger.Int("positive", o.Positive),
			)
		}
	}

	if stats.WindowsAnalysed == 0 && len(outcomes) > 0 {
		return ErrNoWindows
	}
	if bad := stats.Incorrect + stats.Failed; bad > 0 {
		return fmt.Errorf("%w: %d of %d", ErrMisclassified, bad, len(outcomes))
	}
	log.Info(ctx, "all devices classified correctly", logger.Int("devices", len(outcomes)))
	return nil
}
