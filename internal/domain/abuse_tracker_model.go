package domain

// AbuseTrackerEntry counts "not found" hits for an IP inside the current window.
// The row is deleted as soon as the IP is escalated to a deny AccessRecord.
type AbuseTrackerEntry struct {
	IP uint32 `gorm:"column:ip;type:bigint;primaryKey;autoIncrement:false"`

	// FirstSeen is the unix timestamp (seconds) of the first hit in the window.
	FirstSeen int64 `gorm:"column:first_seen;not null;index"`
	Count     int   `gorm:"column:count;not null;default:1"`
}

func (AbuseTrackerEntry) TableName() string {
	return "abuse_tracker_entries"
}
