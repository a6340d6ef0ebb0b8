package testutil

import (
	"testing"
	"time"

	"github.com/coral-mesh/stacktape/pkg/recording"
)

// NewRecording returns a recording of application with a small call tree,
// two markers and one status, suitable for persistence and rendering tests.
func NewRecording(t testing.TB, application string) *recording.Recording {
	t.Helper()

	ms := time.Millisecond
	main := recording.CallSite{Filename: "/src/app/main.go", Line: 12, Name: "main.main"}
	load := recording.CallSite{Filename: "/src/app/load.go", Line: 30, Name: "main.load"}
	parse := recording.CallSite{Filename: "/src/app/load.go", Line: 58, Name: "main.parse"}

	rec := recording.New(application)
	rec.AddCall(
		recording.NewCall(50*ms, 1, parse, load, 2, 150*ms),
		recording.NewCall(0, 1, load, main, 1, 250*ms),
		recording.NewCall(0, 1, main, recording.RootCallSite, 0, 300*ms),
	)
	rec.AddMarker(recording.NewMarker(recording.MarkerInfo, 10*ms, "loading input", recording.NewStack(1, 10*ms, []recording.CallSite{main, load}), recording.DefaultMarkerDuration))
	rec.AddMarker(recording.NewMarker(recording.MarkerWarn, 120*ms, "slow parse", recording.NewStack(1, 120*ms, []recording.CallSite{main, load, parse}), recording.DefaultMarkerDuration))
	rec.AddStatus(recording.NewStatus(100*ms, 25, 10, 64*recording.MB, 16*recording.GB, 8*recording.GB, 12, 1000, 8))
	return rec
}
