package helper

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// NewID creates a random unique UUID string for documents, questions,
// evaluations and ratings.
func NewID() string {
	return uuid.NewString()
}

// PrettyPrint dumps a value as indented JSON, for the CLI list commands.
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Println(string(b))
}
