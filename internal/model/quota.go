package model

// QuotaState is the per-installation daily usage counter. Date is the
// calendar day (YYYY-MM-DD, client-local) the counter was last reset on.
type QuotaState struct {
	Date  string `json:"date"`
	Count int    `json:"count"`

	// Unlimited, once set, makes the counter irrelevant.
	Unlimited bool `json:"unlimited"`
}
