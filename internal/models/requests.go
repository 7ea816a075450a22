package models

// APIResponse is the standard response envelope of the HTTP API.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

// PlanQuote is one line of a price list.
type PlanQuote struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Days  int    `json:"days"`
	Price int    `json:"price"`
	Min   int    `json:"min"`
	Max   int    `json:"max"`
}

// QuoteResponse is the live price list of one server.
type QuoteResponse struct {
	Server string      `json:"server"`
	Name   string      `json:"name"`
	Plans  []PlanQuote `json:"plans"`
}
