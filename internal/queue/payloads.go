package queue

import "encoding/json"

// Payload schemas, one per queue. Field names are part of the wire
// contract and stable across versions.

type ConversionType string

const (
	ConversionOffice  ConversionType = "office"
	ConversionCAD     ConversionType = "cad"
	ConversionKeynote ConversionType = "keynote"
)

type PDFToImagePayload struct {
	DocumentID        string `json:"documentId"`
	DocumentVersionID string `json:"documentVersionId"`
	TeamID            string `json:"teamId"`
	VersionNumber     int    `json:"versionNumber,omitempty"`
}

type FileConversionPayload struct {
	DocumentID        string         `json:"documentId"`
	DocumentVersionID string         `json:"documentVersionId"`
	TeamID            string         `json:"teamId"`
	ConversionType    ConversionType `json:"conversionType"`
}

type VideoOptimizationPayload struct {
	VideoURL          string `json:"videoUrl"`
	TeamID            string `json:"teamId"`
	DocID             string `json:"docId"`
	DocumentVersionID string `json:"documentVersionId"`
	FileSize          int64  `json:"fileSize"`
}

type ExportVisitsPayload struct {
	Type       string `json:"type"` // document | dataroom | dataroom-group
	TeamID     string `json:"teamId"`
	ResourceID string `json:"resourceId"`
	GroupID    string `json:"groupId,omitempty"`
	UserID     string `json:"userId"`
	ExportID   string `json:"exportId"`
}

type ScheduledEmailPayload struct {
	EmailType string `json:"emailType"` // dataroom-trial-info | dataroom-trial-24h | dataroom-trial-expired | upgrade-checkin
	To        string `json:"to"`
	Name      string `json:"name,omitempty"`
	TeamID    string `json:"teamId,omitempty"`
	UseCase   string `json:"useCase,omitempty"`
}

type DataroomNotificationPayload struct {
	DataroomID         string `json:"dataroomId"`
	DataroomDocumentID string `json:"dataroomDocumentId"`
	SenderUserID       string `json:"senderUserId"`
	TeamID             string `json:"teamId"`
}

type ConversationNotificationPayload struct {
	DataroomID       string `json:"dataroomId"`
	MessageID        string `json:"messageId"`
	ConversationID   string `json:"conversationId"`
	TeamID           string `json:"teamId"`
	SenderUserID     string `json:"senderUserId"`
	NotificationType string `json:"notificationType"` // viewer | team-member
}

type PauseResumeNotificationPayload struct {
	TeamID string `json:"teamId"`
}

type AutomaticUnpausePayload struct {
	TeamID string `json:"teamId"`
}

type WebhookDeliveryPayload struct {
	WebhookID     string          `json:"webhookId"`
	WebhookURL    string          `json:"webhookUrl"`
	WebhookSecret string          `json:"webhookSecret"`
	EventID       string          `json:"eventId"`
	Event         string          `json:"event"`
	Payload       json.RawMessage `json:"payload"`
}
