package model

// SourceKind identifies the provider a record came from.
type SourceKind string

const (
	SourceLichess  SourceKind = "lichess"
	SourceChessCom SourceKind = "chesscom"
	SourcePGNFile  SourceKind = "pgnfile"
)

// GameRecord is one candidate unit of work pulled from a provider.
//
// ID is the dedup key. It must be derived with GameID so that the same
// historical game maps to the same ID on every run.
type GameRecord struct {
	ID       string            `json:"id"`
	Source   SourceKind        `json:"source"`
	MoveText string            `json:"move_text"` // SAN move list or full PGN
	Outcome  Outcome           `json:"outcome"`
	Metadata map[string]string `json:"metadata,omitempty"` // opaque to the pipeline
}
