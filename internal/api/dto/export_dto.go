package dto

// CreateExportRequest holds the query parameters of POST /exports/csv.
// Pointers tell an absent parameter from an empty one.
type CreateExportRequest struct {
	CountryCode      *string `form:"country_code"`
	SubscriptionTier *string `form:"subscription_tier"`
	MinLTV           *string `form:"min_ltv"`
	Columns          string  `form:"columns"`
	Delimiter        *string `form:"delimiter"`
	QuoteChar        *string `form:"quoteChar"`
}

type CreateExportResponse struct {
	ExportID string `json:"exportId"`
	Status   string `json:"status"`
}

type ProgressDTO struct {
	TotalRows     int64 `json:"totalRows"`
	ProcessedRows int64 `json:"processedRows"`
	Percentage    int   `json:"percentage"`
}

type ExportStatusResponse struct {
	ExportID    string      `json:"exportId"`
	Status      string      `json:"status"`
	Progress    ProgressDTO `json:"progress"`
	Error       *string     `json:"error"`
	CreatedAt   string      `json:"createdAt"`
	CompletedAt *string     `json:"completedAt"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Database      string `json:"database"`
	ActiveExports int    `json:"activeExports"`
	QueuedExports int    `json:"queuedExports"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
