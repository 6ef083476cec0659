package domain

// UnknownCountryCode marks records whose country is unknown or that were
// force-denied by the abuse tracker.
const UnknownCountryCode = "XX"

// AccessRecord is the cached allow/deny verdict for a single IPv4 address.
type AccessRecord struct {
	// IP holds the big-endian integer form of the address.
	IP uint32 `gorm:"column:ip;type:bigint;primaryKey;autoIncrement:false"`

	Allowed     bool   `gorm:"column:allowed;not null;index"`
	CountryCode string `gorm:"column:country_code;size:2;not null;index"`
}

func (AccessRecord) TableName() string {
	return "access_records"
}

// Address returns the dotted-quad form of the record key.
func (record AccessRecord) Address() string {
	return Uint32ToIPv4(record.IP)
}
