package storagepolicy

import (
	"testing"

	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/testing/assert"
)

func rec(provider, endpoint string, status int, size int64) *model.RawAPIResponseRecord {
	return &model.RawAPIResponseRecord{
		Provider:          provider,
		Endpoint:          endpoint,
		StatusCode:        status,
		ResponseSizeBytes: size,
	}
}

func TestDecideNoRuleRejects(t *testing.T) {
	e := New()
	d := e.Decide(rec("weather", "forecast", 200, 100))
	assert.False(t, d.Store)
	assert.Equal(t, reasonNoRule, d.Reason)
}

func TestDecideExactRuleBeatsDefault(t *testing.T) {
	e := New()
	SetRule(e, &model.StoragePolicyRule{Provider: "weather", Endpoint: "", Enabled: false, Priority: model.PriorityLow})
	SetRule(e, &model.StoragePolicyRule{Provider: "weather", Endpoint: "forecast", Enabled: true, Priority: model.PriorityHigh, TTLDays: 7})

	d := e.Decide(rec("weather", "forecast", 200, 100))
	assert.True(t, d.Store)
	prio, err := d.Metadata.Get("priority")
	assert.NoError(t, err)
	assert.Equal(t, int(model.PriorityHigh), prio.(int))
}

func TestDecideFallsBackToProviderDefault(t *testing.T) {
	e := New()
	SetRule(e, &model.StoragePolicyRule{Provider: "weather", Endpoint: "", Enabled: true, Priority: model.PriorityMedium})

	d := e.Decide(rec("weather", "unmapped-endpoint", 200, 100))
	assert.True(t, d.Store)
}

func TestDecideDisabledRuleRejects(t *testing.T) {
	e := New()
	SetRule(e, &model.StoragePolicyRule{Provider: "weather", Endpoint: "forecast", Enabled: false})
	d := e.Decide(rec("weather", "forecast", 200, 100))
	assert.False(t, d.Store)
	assert.Equal(t, reasonDisabled, d.Reason)
}

func TestDecideStatusCodeGate(t *testing.T) {
	e := New()
	SetRule(e, &model.StoragePolicyRule{Provider: "weather", Endpoint: "forecast", Enabled: true, AllowedStatusCodes: []int{200, 201}})

	rejected := e.Decide(rec("weather", "forecast", 500, 100))
	assert.False(t, rejected.Store)
	assert.Equal(t, reasonStatusCode, rejected.Reason)

	allowed := e.Decide(rec("weather", "forecast", 201, 100))
	assert.True(t, allowed.Store)
}

func TestDecideSizeGates(t *testing.T) {
	e := New()
	SetRule(e, &model.StoragePolicyRule{Provider: "weather", Endpoint: "forecast", Enabled: true, MinSizeBytes: 10, MaxSizeBytes: 100})

	tooSmall := e.Decide(rec("weather", "forecast", 200, 5))
	assert.False(t, tooSmall.Store)
	assert.Equal(t, reasonSizeTooSmall, tooSmall.Reason)

	tooLarge := e.Decide(rec("weather", "forecast", 200, 500))
	assert.False(t, tooLarge.Store)
	assert.Equal(t, reasonSizeTooLarge, tooLarge.Reason)

	inRange := e.Decide(rec("weather", "forecast", 200, 50))
	assert.True(t, inRange.Store)
}

func TestDecideIsPure(t *testing.T) {
	e := New()
	SetRule(e, &model.StoragePolicyRule{Provider: "weather", Endpoint: "forecast", Enabled: true, Priority: model.PriorityHigh})
	r := rec("weather", "forecast", 200, 100)

	first := e.Decide(r)
	second := e.Decide(r)
	assert.Equal(t, first.Store, second.Store)
	assert.Equal(t, first.Reason, second.Reason)
}

func TestTallyCountsSeenStoredAndRejections(t *testing.T) {
	e := New()
	SetRule(e, &model.StoragePolicyRule{Provider: "weather", Endpoint: "forecast", Enabled: true})

	e.Decide(rec("weather", "forecast", 200, 100))
	e.Decide(rec("tourism", "spots", 200, 100)) // no rule -> rejected

	tally := e.Tally()
	assert.Equal(t, 2, tally.Seen)
	assert.Equal(t, 1, tally.Stored)
	assert.Equal(t, 1, tally.RejectedByReason[reasonNoRule])
}

func TestLoadRulesReplacesEntireSet(t *testing.T) {
	e := New()
	SetRule(e, &model.StoragePolicyRule{Provider: "weather", Endpoint: "forecast", Enabled: true})
	LoadRules(e, []*model.StoragePolicyRule{
		{Provider: "tourism", Endpoint: "spots", Enabled: true},
	})

	weather := e.Decide(rec("weather", "forecast", 200, 100))
	assert.False(t, weather.Store)

	tourism := e.Decide(rec("tourism", "spots", 200, 100))
	assert.True(t, tourism.Store)
}
