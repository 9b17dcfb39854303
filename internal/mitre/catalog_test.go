package mitre

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mtdguard/internal/common"
)

func TestDescribe(t *testing.T) {
	c := NewCatalog()

	sms := c.Describe(CaptureSMS)
	assert.Contains(t, sms.Name, "SMS")
	assert.Equal(t, "Collection", sms.Tactic)

	unknown := c.Describe("T9999")
	assert.Equal(t, "T9999", unknown.ID)
	assert.Equal(t, "Unknown", unknown.Name)
	assert.Equal(t, "Unknown", unknown.Tactic)
	assert.Equal(t, "No description available", unknown.Description)
	assert.False(t, c.Known("T9999"))
}

func TestMapAppToTechniques(t *testing.T) {
	c := NewCatalog()

	tests := []struct {
		name  string
		perms []string
		want  []string
	}{
		{"none", nil, []string{}},
		{"receive sms only", []string{common.PermReceiveSMS}, []string{CaptureSMS}},
		{"send sms", []string{"SEND_SMS"}, []string{CaptureSMS, SMSControl}},
		{"coarse location", []string{common.PermCoarseLocation}, []string{LocationTracking}},
		{
			"spyware",
			[]string{common.PermReadContacts, common.PermReadCallLog, common.PermReadSMS, common.PermFineLocation},
			[]string{CaptureSMS, LocationTracking, AccessContactList, AccessCallLog},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.MapAppToTechniques(tt.perms))
		})
	}
}

func TestMapSmsToTechniques(t *testing.T) {
	c := NewCatalog()

	assert.Equal(t, []string{DeliverMaliciousApp}, c.MapSmsToTechniques(nil, 0.51))
	assert.Empty(t, c.MapSmsToTechniques([]string{"http://x"}, 0.5))
}

func TestDescribeTechniques(t *testing.T) {
	c := NewCatalog()

	assert.Equal(t, "No specific threats identified.", c.DescribeTechniques(nil))
	assert.Equal(t,
		"Detected: Capture SMS Messages (T1412), Unknown (T0000)",
		c.DescribeTechniques([]string{CaptureSMS, "T0000"}))
}

func TestAllSortedByID(t *testing.T) {
	all := NewCatalog().All()

	assert.Len(t, all, 8)
	assert.Equal(t, CaptureSMS, all[0].ID)
	assert.Equal(t, EventTriggeredExecution, all[len(all)-1].ID)
}
