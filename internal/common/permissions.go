package common

import (
	"sort"
	"strings"
)

const androidPermissionPrefix = "android.permission."

// Android permissions referenced by the fixed reference tables.
const (
	PermInternet             = "android.permission.INTERNET"
	PermAccessNetworkState   = "android.permission.ACCESS_NETWORK_STATE"
	PermVibrate              = "android.permission.VIBRATE"
	PermCamera               = "android.permission.CAMERA"
	PermFlashlight           = "android.permission.FLASHLIGHT"
	PermRecordAudio          = "android.permission.RECORD_AUDIO"
	PermReadContacts         = "android.permission.READ_CONTACTS"
	PermReadCallLog          = "android.permission.READ_CALL_LOG"
	PermProcessOutgoingCalls = "android.permission.PROCESS_OUTGOING_CALLS"
	PermReadSMS              = "android.permission.READ_SMS"
	PermReceiveSMS           = "android.permission.RECEIVE_SMS"
	PermSendSMS              = "android.permission.SEND_SMS"
	PermFineLocation         = "android.permission.ACCESS_FINE_LOCATION"
	PermCoarseLocation       = "android.permission.ACCESS_COARSE_LOCATION"
)

// NormalizePermission trims p and expands bare names such as "READ_SMS"
// into their android.permission form.
func NormalizePermission(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.Contains(p, ".") {
		return p
	}
	return androidPermissionPrefix + strings.ToUpper(p)
}

// PermissionSet is a deduplicated set of normalized permission strings.
type PermissionSet map[string]struct{}

// NewPermissionSet normalizes and deduplicates perms. Empty entries are dropped.
func NewPermissionSet(perms []string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		if n := NormalizePermission(p); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p string) bool {
	_, ok := s[p]
	return ok
}

// HasAll reports whether every permission in perms is present.
func (s PermissionSet) HasAll(perms ...string) bool {
	for _, p := range perms {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one permission in perms is present.
func (s PermissionSet) HasAny(perms ...string) bool {
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// Sorted returns the members in lexical order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
