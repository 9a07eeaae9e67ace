package types

type HealthResponse struct {
	Status    string       `json:"status"`
	Timestamp string       `json:"timestamp"`
	Version   string       `json:"version,omitempty"`
	Database  string       `json:"database,omitempty"`
	Stats     *HealthStats `json:"stats,omitempty"`
	Error     string       `json:"error,omitempty"`
}

type HealthStats struct {
	TotalAPIKeys  int64 `json:"total_api_keys"`
	TotalCards    int64 `json:"total_cards"`
	ActiveAPIKeys int64 `json:"active_api_keys"`
}
