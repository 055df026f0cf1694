package domain

// RecentVisit is the trimmed record shape used in stats responses.
type RecentVisit struct {
	URL       string `json:"url,omitempty"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SiteStats is the all-time dataset summary served by GET /stats. Counters
// are comma-grouped strings to match the historic response shape.
type SiteStats struct {
	TotalVisits    string            `json:"total_visits"`
	UniqueVisitors string            `json:"unique_visitors"`
	PopularPages   map[string]string `json:"popular_pages"`
	RecentVisits   []RecentVisit     `json:"recent_visits"`
}

// URLStats is the per-URL entry inside a Summary. TotalVisits and UniqueIPs
// are all-time; ByHour, UserAgents and RecentVisits are bounded by the
// requested window.
type URLStats struct {
	TotalVisits  int64            `json:"total_visits"`
	UniqueIPs    int64            `json:"unique_ips"`
	ByHour       map[string]int64 `json:"by_hour"`
	UserAgents   map[string]int64 `json:"user_agents"`
	RecentVisits []RecentVisit    `json:"recent_visits"`
}

// URLReport is the single-URL stats response. It echoes the URL and, unlike
// the summary entries, has no user-agent breakdown.
type URLReport struct {
	URL          string           `json:"url"`
	TotalVisits  int64            `json:"total_visits"`
	UniqueIPs    int64            `json:"unique_ips"`
	HourlyVisits map[string]int64 `json:"hourly_visits"`
	RecentVisits []RecentVisit    `json:"recent_visits"`
}

// DateRange spans the earliest and latest timestamps across all records.
type DateRange struct {
	Earliest *string `json:"earliest"`
	Latest   *string `json:"latest"`
}

// Summary is the windowed per-URL analytics rollup served by GET /summary.
type Summary struct {
	Data         map[string]*URLStats `json:"data"`
	TotalEntries int64                `json:"total_entries"`
	DateRange    DateRange            `json:"date_range"`
}
