package models

import "time"

// GenerationLog records the outcome of one /generate or /generate-vent request
type GenerationLog struct {
	ID          string
	Endpoint    string
	Character   string
	ClientIP    string
	Provider    string
	Attempts    int
	StatusCode  int
	FailureKind *string
	LatencyMs   int
	CacheHit    bool
	CreatedAt   time.Time
}

// CharacterUsage aggregates generation logs per character
type CharacterUsage struct {
	Character string `json:"character"`
	Requests  int    `json:"requests"`
	Failures  int    `json:"failures"`
}
