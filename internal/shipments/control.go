package shipments

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// ControlDigest is the broker's integrity check: hex MD5 over the event
// fields concatenated with the shared salt.
func ControlDigest(event TrackingEvent, salt string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(event.PackageID, 10))
	b.WriteString(event.PackageNo)
	b.WriteString(event.PartnerOrderID)
	b.WriteString(event.Tracking.State)
	b.WriteString(event.Tracking.Description)
	b.WriteString(event.Tracking.Datetime)
	b.WriteString(event.Tracking.Branch)
	b.WriteString(salt)
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// VerifyControl compares the submitted control value in constant time.
func VerifyControl(event TrackingEvent, salt string) bool {
	want := ControlDigest(event, salt)
	got := strings.ToLower(strings.TrimSpace(event.Control))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func (e TrackingEvent) eventID() string {
	return strconv.FormatInt(e.PackageID, 10) + ":" + e.Tracking.State + ":" + e.Tracking.Datetime
}

func trackingPayload(e TrackingEvent) (json.RawMessage, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
