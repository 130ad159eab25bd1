package errors

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReporter struct {
	enabled bool
	calls   atomic.Int32
}

func (r *countingReporter) ReportError(*EnhancedError) { r.calls.Add(1) }
func (r *countingReporter) IsEnabled() bool            { return r.enabled }

func TestBuildDefaults(t *testing.T) {
	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuildInheritsWrappedCategory(t *testing.T) {
	inner := Newf("dial failed").Category(CategoryNetwork).Build()
	outer := New(fmt.Errorf("refresh: %w", inner)).Component("notification").Build()

	assert.Equal(t, CategoryNetwork, outer.Category)
	assert.True(t, IsCategory(outer, CategoryNetwork))
	assert.True(t, Is(outer, inner))
}

func TestPriorityFallback(t *testing.T) {
	assert.Equal(t, PriorityHigh, Newf("x").Priority(PriorityHigh).Build().GetPriority())
	assert.Equal(t, PriorityMedium, Newf("x").Priority("bogus").Build().GetPriority())
	assert.Empty(t, Newf("x").Priority("").Build().GetPriority())
}

func TestContextIsCopied(t *testing.T) {
	ee := Newf("x").Context("id", "n-1").Timing("mark_read", 0).Build()

	ctx := ee.GetContext()
	require.Equal(t, "n-1", ctx["id"])
	require.Equal(t, "mark_read", ctx["operation"])

	ctx["id"] = "mutated"
	assert.Equal(t, "n-1", ee.GetContext()["id"])
}

func TestTelemetryReporterHook(t *testing.T) {
	reporter := &countingReporter{enabled: true}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := Newf("boom").Category(CategorySystem).Build()
	assert.Equal(t, int32(1), reporter.calls.Load())
	assert.True(t, ee.IsReported())

	SetTelemetryReporter(&countingReporter{enabled: false})
	Newf("quiet").Build()
	assert.Equal(t, int32(1), reporter.calls.Load())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(Newf("missing").Category(CategoryNotFound).Build()))
	assert.False(t, IsNotFound(NewStd("plain")))
}
