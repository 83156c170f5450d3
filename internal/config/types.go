package config

// Root is the full on-disk configuration. Duration-valued fields are
// strings ("15s", "24h") parsed at the point of use.
type Root struct {
	Log       Log       `json:"log"`
	Storage   Storage   `json:"storage"`
	Telegram  Telegram  `json:"telegram"`
	Timezone  string    `json:"timezone,omitempty"`
	Planner   Planner   `json:"planner"`
	Poller    Poller    `json:"poller"`
	Broadcast Broadcast `json:"broadcast"`
	Channels  []string  `json:"channels,omitempty"`
}

type Log struct {
	Level   string  `json:"level,omitempty"`
	Console bool    `json:"console,omitempty"`
	File    LogFile `json:"file"`
}

type LogFile struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type Storage struct {
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type Telegram struct {
	// Token may be left empty here and supplied via TELEGRAM_TOKEN.
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	SourceChat  int64  `json:"source_chat,omitempty"`
	AdminChat   int64  `json:"admin_chat,omitempty"`
}

type Planner struct {
	Stagger string `json:"stagger,omitempty"`
}

type Poller struct {
	Tick       string `json:"tick,omitempty"`
	BatchLimit int    `json:"batch_limit,omitempty"`
	ItemPause  string `json:"item_pause,omitempty"`
	SweepEvery int    `json:"sweep_every,omitempty"`
	Retention  string `json:"retention,omitempty"`
}

type Broadcast struct {
	GroupSize      int     `json:"group_size,omitempty"`
	GroupPauseMin  string  `json:"group_pause_min,omitempty"`
	GroupPauseMax  string  `json:"group_pause_max,omitempty"`
	RetryMax       int     `json:"retry_max,omitempty"`
	RetryBase      string  `json:"retry_base,omitempty"`
	SendRate       float64 `json:"send_rate,omitempty"`
	AlertThreshold float64 `json:"alert_threshold,omitempty"`
}
