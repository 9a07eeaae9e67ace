package types

type VerifyRequest struct {
	APIKey   string `json:"api_key"`
	CardKey  string `json:"card_key"`
	DeviceID string `json:"device_id,omitempty"`
}

type QueryRequest struct {
	APIKey  string `json:"api_key"`
	CardKey string `json:"card_key"`
}

type VerifyData struct {
	CardType       string               `json:"card_type"`
	ExpireDate     *string              `json:"expire_date"`
	RemainingCount *int                 `json:"remaining_count"`
	DeviceBinding  *DeviceBindingResult `json:"device_binding"`
}

// DeviceBindingResult is present only when the request carried a device_id.
type DeviceBindingResult struct {
	DeviceID    string `json:"device_id"`
	IsNewDevice bool   `json:"is_new_device"`
}

type QueryData struct {
	CardInfo       CardInfo      `json:"card_info"`
	DeviceBindings []BindingInfo `json:"device_bindings"`
	RecentLogs     []LogEntry    `json:"recent_logs"`
}

type CardInfo struct {
	CardType         string  `json:"card_type"`
	Status           string  `json:"status"`
	ExpireDate       *string `json:"expire_date"`
	TotalCount       *int    `json:"total_count"`
	UsedCount        *int    `json:"used_count"`
	RemainingCount   *int    `json:"remaining_count"`
	FirstUsedAt      *string `json:"first_used_at"`
	LastUsedAt       *string `json:"last_used_at"`
	AllowMultiDevice bool    `json:"allow_multi_device"`
	MaxDevices       int     `json:"max_devices"`
	IsExpired        bool    `json:"is_expired"`
}

type BindingInfo struct {
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	IPAddress      string `json:"ip_address"`
	FirstBindTime  string `json:"first_bind_time"`
	LastActiveTime string `json:"last_active_time"`
}

type LogEntry struct {
	VerificationTime string `json:"verification_time"`
	IPAddress        string `json:"ip_address"`
	Success          bool   `json:"success"`
	ErrorMessage     string `json:"error_message"`
}
