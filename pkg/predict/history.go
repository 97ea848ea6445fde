package predict

import (
	"fmt"
	"time"
)

// Record is a persisted prediction, one per successful inference call.
type Record struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ModelType       ModelType `json:"model_type"`
	Label           string    `json:"label"`
	ConfidenceScore float64   `json:"confidence_score"`
	ImageURL        string    `json:"image_url"`
	Timestamp       time.Time `json:"timestamp"`
}

// Validate reports whether r is complete enough to be stored.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return errInvalidRecord("missing id")
	case r.UserID == "":
		return errInvalidRecord("missing user id")
	case !r.ModelType.Valid():
		return errInvalidRecord("unknown model type " + string(r.ModelType))
	case r.Label == "":
		return errInvalidRecord("missing label")
	case r.ConfidenceScore < 0 || r.ConfidenceScore > 1:
		return errInvalidRecord("confidence score out of range")
	case r.Timestamp.IsZero():
		return errInvalidRecord("missing timestamp")
	}
	return nil
}

// DisplayName is the human label of the record's model type.
func (r Record) DisplayName() string {
	return r.ModelType.Label()
}

func errInvalidRecord(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, reason)
}
