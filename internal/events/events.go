// Package events defines the Kafka topics and payloads the engine publishes
// so downstream consumers (notifications, analytics) can react to ledger
// activity without querying the store.
package events

// Topic names.
const (
	TopicStakePlaced    = "stake_placed"
	TopicStakeWithdrawn = "stake_withdrawn"
	TopicGameCancelled  = "game_cancelled"
	TopicWaveExecuted   = "wave_executed"
)

// StakePlaced is emitted after a stake placement commits.
type StakePlaced struct {
	StakeID    string `json:"stake_id"`
	UserID     string `json:"user_id"`
	GameID     string `json:"game_id"`
	OptionID   string `json:"option_id"`
	Amount     string `json:"amount"`
	Confidence int    `json:"confidence"`
	TsUnixMs   int64  `json:"ts_unix_ms"`
}

// StakeWithdrawn is emitted after a withdrawal refund commits.
type StakeWithdrawn struct {
	StakeID  string `json:"stake_id"`
	UserID   string `json:"user_id"`
	GameID   string `json:"game_id"`
	Refunded string `json:"refunded"`
	TsUnixMs int64  `json:"ts_unix_ms"`
}

// GameCancelled is emitted after a cancellation mass refund commits.
type GameCancelled struct {
	GameID         string `json:"game_id"`
	StakesRefunded int    `json:"stakes_refunded"`
	TotalRefunded  string `json:"total_refunded"`
	TsUnixMs       int64  `json:"ts_unix_ms"`
}

// WaveExecuted is emitted after a MoneyWave run commits.
type WaveExecuted struct {
	WaveID        string `json:"wave_id"`
	WaveType      string `json:"wave_type"`
	PMCIssued     string `json:"pmc_issued"`
	AffectedUsers int    `json:"affected_users"`
	TsUnixMs      int64  `json:"ts_unix_ms"`
}
