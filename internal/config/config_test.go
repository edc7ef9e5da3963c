package config_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/okian/tremor/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.FilterOrder, convey.ShouldEqual, 4)
			convey.So(cfg.BandLowHz, convey.ShouldEqual, 3)
			convey.So(cfg.BandHighHz, convey.ShouldEqual, 6)
			convey.So(cfg.IndexThreshold, convey.ShouldEqual, 0.3)
			convey.So(cfg.SevereReferenceG, convey.ShouldEqual, 0.2)
			convey.So(cfg.MinSpectralRateHz, convey.ShouldEqual, 5)
			convey.So(cfg.Budget, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.ResultsDir, convey.ShouldBeEmpty)
		})
	})
}
