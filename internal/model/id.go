package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ID formats. Work item ids carry a timestamp so operators can eyeball
// creation order in logs and tracker tickets; decision and action ids are
// short random hex.

// NewWorkItemID returns an id of the form wi-20260115093042-a1b2c3d4.
func NewWorkItemID(now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("wi-%s-%x", now.UTC().Format("20060102150405"), u[:4])
}

// NewDecisionID returns an id of the form dec-a1b2c3d4e5f6.
func NewDecisionID() string {
	u := uuid.New()
	return fmt.Sprintf("dec-%x", u[:6])
}

// NewActionID returns an id of the form act-a1b2c3d4e5f6.
func NewActionID() string {
	u := uuid.New()
	return fmt.Sprintf("act-%x", u[:6])
}
