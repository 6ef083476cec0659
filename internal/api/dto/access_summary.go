package dto

// AccessSummary aggregates the cached access records for the admin overview.
type AccessSummary struct {
	All       int64            `json:"all"`
	Allowed   int64            `json:"allowed"`
	Denied    int64            `json:"denied"`
	Countries []CountrySummary `json:"countries"`
}

type CountrySummary struct {
	CountryCode string `json:"country_code"`
	Count       int64  `json:"count"`
	Allowed     int64  `json:"allowed"`
	Denied      int64  `json:"denied"`
	// InAllowList is true when the code is part of the configured allow list.
	InAllowList bool `json:"in_allow_list"`
}

type AccessRecordInfo struct {
	IP      uint32 `json:"ip"`
	Address string `json:"address"`
	Allowed bool   `json:"allowed"`
}
