package httpdto

import (
	"safetrade-chat/internal/domain/message"
	"safetrade-chat/internal/fraud"
)

type SendMessageRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content" binding:"required"`
	MessageType    string `json:"messageType"`
	IsEncrypted    bool   `json:"isEncrypted"`
	ClientID       string `json:"clientMessageId"`
}

type FraudScore struct {
	RiskLevel string   `json:"riskLevel"`
	Score     int      `json:"score"`
	Flags     []string `json:"flags"`
}

type FraudAnalysis struct {
	RiskLevel string   `json:"riskLevel"`
	Score     int      `json:"score"`
	Flags     []string `json:"flags"`
	Reason    string   `json:"reason,omitempty"`
}

// SendMessageResponse is the send endpoint's body. Blocked is only ever true
// together with Success false.
type SendMessageResponse struct {
	Success       bool             `json:"success"`
	Message       *message.Message `json:"message,omitempty"`
	FraudScore    *FraudScore      `json:"fraudScore,omitempty"`
	Blocked       bool             `json:"blocked,omitempty"`
	Error         string           `json:"error,omitempty"`
	Code          string           `json:"code,omitempty"`
	FraudAnalysis *FraudAnalysis   `json:"fraudAnalysis,omitempty"`
}

// RateLimitStatus is the caller's send budget in the current window.
type RateLimitStatus struct {
	Allowed        bool `json:"allowed"`
	Limit          int  `json:"limit"`
	Remaining      int  `json:"remaining"`
	ResetInSeconds int  `json:"resetInSeconds"`
}

// BlockedMessageError is the fixed user-facing text for a blocked send.
const BlockedMessageError = "Message blocked for security reasons"

func NewSendSuccess(m message.Message, a fraud.Analysis) SendMessageResponse {
	return SendMessageResponse{
		Success: true,
		Message: &m,
		FraudScore: &FraudScore{
			RiskLevel: string(a.RiskLevel),
			Score:     a.Score,
			Flags:     a.Flags,
		},
	}
}

func NewSendBlocked(a fraud.Analysis) SendMessageResponse {
	return SendMessageResponse{
		Success: false,
		Blocked: true,
		Error:   BlockedMessageError,
		Code:    "BLOCKED",
		FraudAnalysis: &FraudAnalysis{
			RiskLevel: string(a.RiskLevel),
			Score:     a.Score,
			Flags:     a.Flags,
			Reason:    a.Reason,
		},
	}
}

func NewSendFailure(err, code string) SendMessageResponse {
	return SendMessageResponse{Success: false, Error: err, Code: code}
}

type MarkReadResponse struct {
	Updated int `json:"updated"`
}
