package model

type TipNotification struct {
	Type        string `json:"type"`
	ScriptID    uint   `json:"script_id"`
	ScriptTitle string `json:"script_title"`
	VoterKey    string `json:"voter_key"`
	AmountUnits int64  `json:"amount_units"`
}

type TipResponseItem struct {
	CreatedAt    string `json:"created_at"`
	VoterKey     string `json:"voter_key"`
	AmountUnits  int64  `json:"amount_units"`
	SettlementTx string `json:"settlement_tx"`
	Status       string `json:"status"`
}

type WorkerResponse struct {
	Stats      interface{} `json:"stats"`
	DurationMs int64       `json:"duration_ms"`
}
