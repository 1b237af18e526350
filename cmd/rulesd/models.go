package main

import (
	"github.com/liamcoop/rulebook/rules"
	"github.com/liamcoop/rulebook/worlds"
)

// API Request and Response Models

// WorldResponse represents a loaded world in API responses
type WorldResponse struct {
	ID        string `json:"id" example:"castle"`
	Version   int    `json:"version" example:"3"`
	Rulebooks int    `json:"rulebooks" example:"2"`
	Rules     int    `json:"rules" example:"12"`
} // @name WorldResponse

// WorldsListResponse represents the response for listing worlds
type WorldsListResponse struct {
	Worlds []WorldResponse `json:"worlds"`
} // @name WorldsListResponse

// CatalogResponse represents a world's active catalog
type CatalogResponse struct {
	WorldID    string         `json:"worldId" example:"castle"`
	Version    int            `json:"version" example:"3"`
	Definition worlds.Catalog `json:"definition"`
} // @name CatalogResponse

// SlotResponse is one position in a resolved rulebook order
type SlotResponse struct {
	RuleID   string `json:"ruleId" example:"locked_door"`
	Priority int    `json:"priority" example:"100"`
	Enabled  bool   `json:"enabled" example:"true"`
	Trigger  bool   `json:"trigger" example:"false"`
} // @name SlotResponse

// RulebookResponse represents a rulebook with its resolved order
type RulebookResponse struct {
	ID       string         `json:"id" example:"before"`
	Priority int            `json:"priority" example:"100"`
	Order    []SlotResponse `json:"order"`
	Error    string         `json:"error,omitempty" example:"rulebook before: cyclic ordering constraint among [a, b]"`
} // @name RulebookResponse

// RulebooksListResponse represents the response for listing rulebooks
type RulebooksListResponse struct {
	Rulebooks []RulebookResponse `json:"rulebooks"`
} // @name RulebooksListResponse

// RuleResponse represents a single rule and the rulebooks it belongs to
type RuleResponse struct {
	ID        string          `json:"id" example:"locked_door"`
	Priority  int             `json:"priority" example:"100"`
	Enabled   bool            `json:"enabled" example:"true"`
	Rulebooks []string        `json:"rulebooks"`
	Filter    *FilterResponse `json:"filter,omitempty"`
} // @name RuleResponse

// FilterResponse represents a trigger's action/participant filter
type FilterResponse struct {
	Action string `json:"action,omitempty" example:"open"`
	Src    string `json:"src,omitempty"`
	Dst    string `json:"dst,omitempty" example:"Door1"`
} // @name FilterResponse

// RunRequest represents the request body for running a rulebook
type RunRequest struct {
	Rulebook string         `json:"rulebook,omitempty" example:"before"`
	Action   string         `json:"action" example:"open" binding:"required"`
	Parent   string         `json:"parent,omitempty" example:"enter"`
	Src      string         `json:"src,omitempty" example:"player"`
	Dst      string         `json:"dst,omitempty" example:"Door1"`
	Args     map[string]any `json:"args,omitempty"`
	Dispatch bool           `json:"dispatch,omitempty" example:"false"`
} // @name RunRequest

// FiringResponse represents one audit record
type FiringResponse struct {
	ID         string `json:"id"`
	RulebookID string `json:"rulebookId" example:"before"`
	RuleID     string `json:"ruleId" example:"locked_door"`
	Action     string `json:"action" example:"open"`
	Outcome    string `json:"outcome" example:"abort"`
	Timestamp  int64  `json:"timestamp" example:"42"`
	Error      string `json:"error,omitempty"`
} // @name FiringResponse

// StepResponse represents one rulebook run
type StepResponse struct {
	RulebookID  string           `json:"rulebookId" example:"before"`
	Action      string           `json:"action" example:"open"`
	Verdict     string           `json:"verdict" example:"vetoed"`
	RuleID      string           `json:"ruleId,omitempty" example:"locked_door"`
	Replacement string           `json:"replacement,omitempty" example:"knock"`
	Nested      bool             `json:"nested"`
	Firings     []FiringResponse `json:"firings"`
	Errors      []string         `json:"errors,omitempty"`
} // @name StepResponse

// RunResponse represents the result of a run or a dispatch
type RunResponse struct {
	Action  string         `json:"action" example:"knock"`
	Verdict string         `json:"verdict" example:"completed"`
	Steps   []StepResponse `json:"steps"`
	Error   string         `json:"error,omitempty"`
} // @name RunResponse

// FiringsListResponse represents recent firings of a world
type FiringsListResponse struct {
	Firings []FiringResponse `json:"firings"`
} // @name FiringsListResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"world not found"`
	Details string `json:"details,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status" example:"healthy"`
	WorldsLoaded  int    `json:"worldsLoaded" example:"1"`
	TotalWarnings int64  `json:"totalWarnings" example:"0"`
	TotalErrors   int64  `json:"totalErrors" example:"0"`
	Error         string `json:"error,omitempty"`
} // @name HealthResponse

func toFiring(rec rules.FiringRecord) FiringResponse {
	f := FiringResponse{
		ID:         rec.ID,
		RulebookID: rec.RulebookID,
		RuleID:     rec.RuleID,
		Action:     string(rec.Action),
		Outcome:    rec.Outcome.String(),
		Timestamp:  rec.Timestamp,
	}
	if rec.Err != nil {
		f.Error = rec.Err.Error()
	}
	return f
}

func toStep(action *rules.Action, res *rules.Result) StepResponse {
	step := StepResponse{
		RulebookID: res.RulebookID,
		Action:     action.String(),
		Verdict:    res.Verdict.String(),
		RuleID:     res.RuleID,
		Nested:     res.Nested,
		Firings:    make([]FiringResponse, 0, len(res.Firings)),
	}
	if res.Replacement != nil {
		step.Replacement = res.Replacement.String()
	}
	for _, rec := range res.Firings {
		step.Firings = append(step.Firings, toFiring(rec))
	}
	for _, err := range res.Errors {
		step.Errors = append(step.Errors, err.Error())
	}
	return step
}

func toSlots(order []rules.Slot) []SlotResponse {
	slots := make([]SlotResponse, 0, len(order))
	for _, slot := range order {
		_, trigger := slot.Member.(*rules.Trigger)
		slots = append(slots, SlotResponse{
			RuleID:   slot.Member.Handle(),
			Priority: slot.Priority,
			Enabled:  slot.Member.Enabled(),
			Trigger:  trigger,
		})
	}
	return slots
}
