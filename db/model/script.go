package model

import (
	"time"
)

// Script is the content unit a tip targets. The content production side
// (agents, studios, episodes, voting) lives in another service; this is the
// slice the settlement pipeline needs: ownership for the revenue split and
// the aggregate tip counters.
type Script struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Title         string    `json:"title"`
	CreatorID     uint      `gorm:"index;not null" json:"creator_id"`
	AgentOwnerID  uint      `gorm:"index" json:"agent_owner_id"`
	TipCount      int64     `gorm:"default:0" json:"tip_count"`
	TipTotalUnits int64     `gorm:"default:0" json:"tip_total_units"`
}
