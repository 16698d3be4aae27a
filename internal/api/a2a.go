package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	apperrors "Alfred-Curator/internal/errors"
)

// A2A 协议：其他智能体通过 JSON-RPC 的 tasks/send 方法调用本服务的
// 技能。免费技能直接返回结果，付费技能先经过准入判定，未付费时
// 返回 payment-required 状态与支付指引。

const (
	skillStats    = "stats"
	skillSignals  = "signals"
	skillBriefing = "briefing"
	skillCurate   = "curate"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  rpcParams       `json:"params"`
}

type rpcParams struct {
	Task rpcTask `json:"task"`
}

type rpcTask struct {
	Skill string    `json:"skill"`
	Input taskInput `json:"input"`
}

type taskInput struct {
	Limit    int    `json:"limit,omitempty"`
	MinScore int    `json:"minScore,omitempty"`
	TxHash   string `json:"txHash,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  *taskResult     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type taskResult struct {
	Status  string       `json:"status"`
	Data    any          `json:"data,omitempty"`
	Message string       `json:"message,omitempty"`
	Payment *taskPayment `json:"payment,omitempty"`
}

type taskPayment struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Token     string `json:"token"`
	Network   string `json:"network"`
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	card := map[string]any{
		"name":        "Alfred Curator",
		"description": "Autonomous tech and crypto news curation agent. Aggregates, scores and summarizes headlines.",
		"version":     "1.0.0",
		"url":         "/a2a",
		"skills": []map[string]any{
			{
				"id":          skillStats,
				"name":        "Service Stats",
				"description": "Free overview of curation activity.",
				"paid":        false,
			},
			{
				"id":          skillSignals,
				"name":        "High Signals",
				"description": "Recent high-scoring headlines with sources and links.",
				"paid":        true,
			},
			{
				"id":          skillBriefing,
				"name":        "News Briefing",
				"description": "Categorized briefing of the most relevant recent news.",
				"paid":        true,
			},
			{
				"id":          skillCurate,
				"name":        "Run Curation",
				"description": "Trigger an on-demand curation cycle.",
				"paid":        true,
			},
		},
		"payment": map[string]any{
			"amount":    s.payments.MinEth(),
			"token":     "ETH",
			"network":   s.payments.Network(),
			"recipient": s.payments.Wallet(),
		},
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleA2A(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: -32700, Message: "parse error"},
		})
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if req.Method != "tasks/send" {
		resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Result = s.runTask(r, req.Params.Task)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runTask(r *http.Request, task rpcTask) *taskResult {
	skill := strings.ToLower(strings.TrimSpace(task.Skill))
	switch skill {
	case skillStats:
		return s.taskStats()
	case skillSignals, skillBriefing, skillCurate:
		if denied := s.requirePayment(r, task.Input); denied != nil {
			return denied
		}
	default:
		return &taskResult{
			Status:  "failed",
			Message: fmt.Sprintf("unknown skill %q, available: stats, signals, briefing, curate", task.Skill),
		}
	}

	switch skill {
	case skillSignals:
		return s.taskSignals(task.Input)
	case skillBriefing:
		return s.taskBriefing(r)
	default:
		return s.taskCurate(r)
	}
}

// requirePayment 复用 HTTP 准入判定，额外支持任务输入里内联的 txHash。
func (s *Server) requirePayment(r *http.Request, input taskInput) *taskResult {
	decision := s.gate.Check(r)
	if decision.Allowed {
		return nil
	}

	if input.TxHash != "" {
		status, err := s.payments.CheckPayment(r.Context(), "", input.TxHash)
		if err == nil && status.Paid {
			return nil
		}
	}

	return &taskResult{
		Status:  "payment-required",
		Message: "This skill requires payment. Include a valid txHash in the task input.",
		Payment: &taskPayment{
			Recipient: s.payments.Wallet(),
			Amount:    s.payments.MinEth(),
			Token:     "ETH",
			Network:   s.payments.Network(),
		},
	}
}

func (s *Server) taskStats() *taskResult {
	return &taskResult{Status: "completed", Data: s.statsPayload()}
}

func (s *Server) taskSignals(input taskInput) *taskResult {
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}
	signals := s.curator.Memory().Signals(limit, input.MinScore)
	return &taskResult{
		Status: "completed",
		Data: map[string]any{
			"count":   len(signals),
			"signals": signals,
		},
	}
}

func (s *Server) taskBriefing(r *http.Request) *taskResult {
	result, err := s.briefings.Generate(r.Context())
	if err != nil {
		return &taskResult{Status: "failed", Message: err.Error()}
	}
	return &taskResult{Status: "completed", Data: result}
}

func (s *Server) taskCurate(r *http.Request) *taskResult {
	stats, err := s.curator.RunCycle(r.Context())
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeCycleInFlight {
			return &taskResult{Status: "failed", Message: "a curation cycle is already running"}
		}
		return &taskResult{Status: "failed", Message: err.Error()}
	}
	return &taskResult{Status: "completed", Data: stats}
}
