package model_test

import (
	"testing"

	model "github.com/okian/tremor/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func released(ts int64) *int64 { return &ts }

func TestResolveOwner(t *testing.T) {
	convey.Convey("Given a device reassigned from patient A to patient B", t, func() {
		history := []model.Assignment{
			{DeviceID: "d", PatientID: "A", AssignedAt: 100, ReleasedAt: released(200), Status: model.StatusInactive},
			{DeviceID: "d", PatientID: "B", AssignedAt: 200, Status: model.StatusActive},
		}

		convey.Convey("Then each instant resolves to the covering interval", func() {
			convey.So(model.ResolveOwner(history, 50), convey.ShouldEqual, model.Unassigned)
			convey.So(model.ResolveOwner(history, 100), convey.ShouldEqual, "A")
			convey.So(model.ResolveOwner(history, 199), convey.ShouldEqual, "A")
			convey.So(model.ResolveOwner(history, 200), convey.ShouldEqual, "B")
			convey.So(model.ResolveOwner(history, 10_000), convey.ShouldEqual, "B")
		})
	})

	convey.Convey("Given an open assignment that is no longer active", t, func() {
		history := []model.Assignment{{DeviceID: "d", PatientID: "A", AssignedAt: 100, Status: model.StatusInactive}}

		convey.Convey("Then it does not match", func() {
			convey.So(model.ResolveOwner(history, 150), convey.ShouldEqual, model.Unassigned)
		})
	})

	convey.Convey("Given overlapping assignments", t, func() {
		history := []model.Assignment{
			{DeviceID: "d", PatientID: "old", AssignedAt: 100, ReleasedAt: released(500), Status: model.StatusInactive},
			{DeviceID: "d", PatientID: "new", AssignedAt: 300, Status: model.StatusActive},
		}

		convey.Convey("Then the most recent one wins", func() {
			convey.So(model.ResolveOwner(history, 400), convey.ShouldEqual, "new")
		})
	})
}

func TestResultKey(t *testing.T) {
	convey.Convey("Given results with and without an owner", t, func() {
		owned := model.AnalysisResult{PatientID: "p1", DeviceID: "d1", Timestamp: 5000}
		orphan := model.AnalysisResult{PatientID: model.Unassigned, DeviceID: "d1", Timestamp: 5000}

		convey.Convey("Then the key uses the patient when known and the device otherwise", func() {
			convey.So(owned.Key(), convey.ShouldEqual, "patient/p1@5000")
			convey.So(orphan.Key(), convey.ShouldEqual, "device/d1@5000")
		})
	})
}
