package models

import "time"

type MCacheStats struct {
	Size              int    `json:"size"`
	Capacity          int    `json:"capacity"`
	Hits              uint64 `json:"hits"`
	Misses            uint64 `json:"misses"`
	Evictions         uint64 `json:"evictions"`
	ExternalAvailable bool   `json:"external_available"`
}

type MRegistryStats struct {
	ActiveConnections int  `json:"active_connections"`
	MaxConnections    int  `json:"max_connections"`
	ShuttingDown      bool `json:"shutting_down"`
}

type MSubscriptionStats struct {
	Clients int `json:"clients"`
	Symbols int `json:"symbols"`
	Edges   int `json:"edges"`
}

type MSchedulerStats struct {
	Ticks        uint64        `json:"ticks"`
	Errors       uint64        `json:"errors"`
	LastTick     time.Time     `json:"last_tick"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastSymbols  int           `json:"last_symbols"`
	LastFailures int           `json:"last_failures"`
}

type MSystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	Goroutines    int     `json:"goroutines"`
}
