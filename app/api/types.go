package api

import (
	"github.com/feedsieve/feedsieve/app/analysis"
	"github.com/feedsieve/feedsieve/app/analyzer"
	"github.com/feedsieve/feedsieve/app/database"
	"github.com/feedsieve/feedsieve/app/rules"
	"github.com/feedsieve/feedsieve/app/vector"
)

// Handler bundles the dependencies the HTTP surface needs.
type Handler struct {
	queue      *analysis.Queue
	ruleEngine *rules.Engine
	entryRepo  database.EntryRepository
	ruleRepo   database.RuleRepository
	vectors    vector.Store
	profiles   *analyzer.ProfileCache
}

type enqueueRequest struct {
	EntryID        string `json:"entry_id" binding:"required"`
	Priority       int    `json:"priority"`
	ForceReanalyze bool   `json:"force_reanalyze"`
}

type enqueueBatchRequest struct {
	EntryIDs       []string `json:"entry_ids" binding:"required"`
	Priority       int      `json:"priority"`
	ForceReanalyze bool     `json:"force_reanalyze"`
}

type scanRequest struct {
	Limit int `json:"limit"`
}

type retryRequest struct {
	Limit int `json:"limit"`
}

type testRuleRequest struct {
	UserID     string            `json:"user_id"`
	Name       string            `json:"name" binding:"required"`
	Conditions []rules.Condition `json:"conditions"`
	Actions    []rules.Action    `json:"actions"`
}
