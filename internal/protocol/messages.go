package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	ClientID        string        `json:"client_id"`
	Params          SessionParams `json:"params"`
	Catalog         CatalogRef    `json:"catalog"`
}

type SessionParams struct {
	TickRateHz    int     `json:"tick_rate_hz"`
	DurationScale float64 `json:"duration_scale"`
	ActPerSecond  float64 `json:"act_per_second,omitempty"`
	ActBurst      int     `json:"act_burst,omitempty"`
}

type CatalogRef struct {
	Variant string `json:"variant"`
	Digest  string `json:"digest"`
	Count   int    `json:"count"`
}

// CATALOG (server -> client): the task table, sent once after WELCOME.
// Hidden requirements and outputs are left out.
type CatalogMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Variant         string    `json:"variant"`
	Title           string    `json:"title,omitempty"`
	Digest          string    `json:"digest"`
	Tasks           []TaskDef `json:"tasks"`
}

type TaskDef struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Limit        int           `json:"limit"`
	DurationMs   int64         `json:"duration_ms"`
	Requirements []Requirement `json:"requirements,omitempty"`
	Outputs      []Output      `json:"outputs,omitempty"`
	OnComplete   *Effect       `json:"on_complete,omitempty"`
}

type Requirement struct {
	Kind   string `json:"kind"` // CONSUMES, REQUIRES_PRESENCE, FORBIDS_PRESENCE
	ID     string `json:"id"`
	Amount int    `json:"amount,omitempty"`
	Keep   bool   `json:"keep,omitempty"`
}

type Output struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

type Effect struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// STATE (server -> client): sent after WELCOME and after every accepted
// operation. Diff and Delta are empty in the initial message.
type StateMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Seq             uint64         `json:"seq"`
	TimeMs          int64          `json:"time_ms"`
	Cause           string         `json:"cause,omitempty"` // START or FINISH
	TaskID          string         `json:"task_id,omitempty"`
	Ledger          map[string]int `json:"ledger"`
	Todo            []TodoItem     `json:"todo"`
	Diff            *TodoDiff      `json:"diff,omitempty"`
	Delta           map[string]int `json:"delta,omitempty"`
	Digest          string         `json:"digest"`
}

type TodoItem struct {
	Key         string `json:"key"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Started     bool   `json:"started"`
	StartTimeMs int64  `json:"start_time_ms,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	Limit       int    `json:"limit"`
	Times       int    `json:"times"`
}

type TodoDiff struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// ACT (client -> server)
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActID           string `json:"act_id"`
	Op              string `json:"op"`
	TaskID          string `json:"task_id"`
}

// ACK (server -> client): one per ACT.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Suggestion      string `json:"suggestion,omitempty"`
	Seq             uint64 `json:"seq,omitempty"`
}

// EVENT (server -> client): achievements and completion effects.
type EventMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Seq             uint64  `json:"seq"`
	TimeMs          int64   `json:"time_ms"`
	Kind            string  `json:"kind"` // ACHIEVEMENT or EFFECT
	TaskID          string  `json:"task_id"`
	Name            string  `json:"name,omitempty"`
	Effect          *Effect `json:"effect,omitempty"`
}
