package mitre

import (
	"slices"
	"strings"

	"mtdguard/internal/common"
)

// Technique ids known to the catalog.
const (
	DeliverMaliciousApp     = "T1476"
	InstallMaliciousApp     = "T1478"
	EventTriggeredExecution = "T1624"
	AccessContactList       = "T1432"
	AccessCallLog           = "T1433"
	CaptureSMS              = "T1412"
	LocationTracking        = "T1430"
	SMSControl              = "T1582"
)

// Technique describes one ATT&CK for Mobile technique.
type Technique struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Tactic      string `json:"tactic"`
	Description string `json:"description"`
}

const noThreatsText = "No specific threats identified."

var unknownTechnique = Technique{
	Name:        "Unknown",
	Tactic:      "Unknown",
	Description: "No description available",
}

var techniques = []Technique{
	{DeliverMaliciousApp, "Deliver Malicious App via Other Means", "Initial Access", "App delivered via phishing or social engineering"},
	{InstallMaliciousApp, "Install Insecure or Malicious App", "Initial Access", "Installation from unknown sources"},
	{EventTriggeredExecution, "Event Triggered Execution", "Persistence", "Using broadcast receivers for persistence"},
	{AccessContactList, "Access Contact List", "Collection", "App accesses contact information"},
	{AccessCallLog, "Access Call Log", "Collection", "App accesses call history"},
	{CaptureSMS, "Capture SMS Messages", "Collection", "App reads or intercepts SMS"},
	{LocationTracking, "Location Tracking", "Collection", "App tracks device location"},
	{SMSControl, "SMS Control", "Impact", "Malicious SMS operations"},
}

const smsSuspicionThreshold = 0.5

// Catalog is a fixed technique table. It is read-only after construction.
type Catalog struct {
	byID map[string]Technique
}

func NewCatalog() *Catalog {
	c := &Catalog{byID: make(map[string]Technique, len(techniques))}
	for _, t := range techniques {
		c.byID[t.ID] = t
	}
	return c
}

// Describe returns the descriptor for id, or a generic Unknown descriptor
// carrying id when the catalog has no such technique.
func (c *Catalog) Describe(id string) Technique {
	if t, ok := c.byID[id]; ok {
		return t
	}
	t := unknownTechnique
	t.ID = id
	return t
}

// Known reports whether id is in the catalog.
func (c *Catalog) Known(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// All lists the catalog sorted by id.
func (c *Catalog) All() []Technique {
	out := make([]Technique, 0, len(c.byID))
	for _, t := range c.byID {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Technique) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// MapAppToTechniques maps requested permissions to techniques. The result is
// sorted.
func (c *Catalog) MapAppToTechniques(permissions []string) []string {
	perms := common.NewPermissionSet(permissions)
	out := []string{}

	if perms.Has(common.PermReadContacts) {
		out = append(out, AccessContactList)
	}
	if perms.Has(common.PermReadCallLog) {
		out = append(out, AccessCallLog)
	}
	if perms.HasAny(common.PermReadSMS, common.PermReceiveSMS, common.PermSendSMS) {
		out = append(out, CaptureSMS)
		if perms.Has(common.PermSendSMS) {
			out = append(out, SMSControl)
		}
	}
	if perms.HasAny(common.PermFineLocation, common.PermCoarseLocation) {
		out = append(out, LocationTracking)
	}

	slices.Sort(out)
	return out
}

// MapSmsToTechniques attributes phishing delivery to messages the device
// already scored as suspicious.
func (c *Catalog) MapSmsToTechniques(urls []string, localScore float64) []string {
	if localScore > smsSuspicionThreshold {
		return []string{DeliverMaliciousApp}
	}
	return []string{}
}

// DescribeTechniques renders ids, in order, as alert text.
func (c *Catalog) DescribeTechniques(ids []string) string {
	if len(ids) == 0 {
		return noThreatsText
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, c.Describe(id).Name+" ("+id+")")
	}
	return "Detected: " + strings.Join(parts, ", ")
}
