package models

// Requests for the hub HTTP endpoints. Defined in domain for consistency and reuse.

type SignalListRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
	Status string `query:"status" json:"status" validate:"omitempty,oneof=pending executed cancelled"`
	Page   int    `query:"page" json:"page" default:"1" validate:"gte=1"`
	Limit  int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

type LogListRequest struct {
	Level string `query:"level" json:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type TransmissionListRequest struct {
	SignalID    int64  `query:"signal_id" json:"signal_id" validate:"gte=0"`
	Destination string `query:"destination" json:"destination" validate:"omitempty,max=64"`
	Status      string `query:"status" json:"status" validate:"omitempty,oneof=pending sent failed"`
	Since       string `query:"since" json:"since" validate:"omitempty,max=40"`
	Limit       int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type DispatchRequest struct {
	SignalID     int64    `param:"id" json:"-" validate:"gt=0"`
	Destinations []string `json:"destinations" validate:"omitempty,dive,required,max=64"`
}

type MT45PollRequest struct {
	EA  string `query:"ea" json:"ea" validate:"required,max=64"`
	Max int    `query:"max" json:"max" default:"10" validate:"gte=1,lte=100"`
}
