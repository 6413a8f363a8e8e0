package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// FIK is a Firing Instance Key: "{schedule_id}|{unix_seconds}", the member
// stored in the Redis time index for one concrete future firing of a
// schedule. It is opaque outside this package except for its wire format,
// which callers on the control-socket boundary also need to produce.
type FIK string

// MakeFIK builds a Firing Instance Key from a schedule ID and a Unix
// timestamp in seconds.
func MakeFIK(scheduleID string, unixSeconds int64) FIK {
	return FIK(fmt.Sprintf("%s|%d", scheduleID, unixSeconds))
}

// Parse splits a Firing Instance Key back into its schedule ID and
// firing time. It returns an error if the key does not contain exactly
// one separator or the timestamp half is not a base-10 integer.
func (f FIK) Parse() (scheduleID string, unixSeconds int64, err error) {
	parts := strings.SplitN(string(f), "|", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, fmt.Errorf("malformed firing instance key %q", string(f))
	}
	sec, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed firing instance key %q: %w", string(f), err)
	}
	return parts[0], sec, nil
}

func (f FIK) String() string { return string(f) }
