package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DomainGame is the domain prefix for content-addressed game IDs.
// The version suffix allows migrating the derivation without collisions.
const DomainGame = "chessbench/game/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// GameID derives the stable dedup key for a game.
//
// When the provider exposes its own identifier (a Lichess game id, a
// Chess.com game number) the ID is "<source>:<nativeID>". Otherwise the ID is
// a content hash of the source and the whitespace-collapsed move text, so
// re-reading the same PGN file yields the same IDs.
func GameID(source SourceKind, nativeID, moveText string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("game id: empty source")
	}

	nativeID = strings.TrimSpace(norm.NFC.String(nativeID))
	if nativeID != "" {
		return string(source) + ":" + nativeID, nil
	}

	moves := strings.Join(strings.Fields(moveText), " ")
	if moves == "" {
		return "", fmt.Errorf("game id: no native id and no move text")
	}

	canonical, err := marshalCanonical(map[string]string{
		"moves":  moves,
		"source": string(source),
	})
	if err != nil {
		return "", fmt.Errorf("game id: %w", err)
	}

	// 128 bits is plenty for dedup and keeps IDs readable in logs.
	return string(source) + ":" + hashWithDomain(DomainGame, canonical)[:32], nil
}

// MustGameID is like GameID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustGameID(source SourceKind, nativeID, moveText string) string {
	id, err := GameID(source, nativeID, moveText)
	if err != nil {
		panic(err)
	}
	return id
}
