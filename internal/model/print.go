package model

// PrintResult is the outcome of one dispatch. Exactly one of Printed or
// PDFSaved is true on success.
type PrintResult struct {
	Success  bool   `json:"success"`
	Printed  bool   `json:"printed,omitempty"`
	PDFSaved bool   `json:"pdfSaved,omitempty"`
	FilePath string `json:"filePath,omitempty"`
	Error    string `json:"error,omitempty"`
	Err      error  `json:"-"`
}

// TokenState is the persisted day-scoped ticket counter (token-data.json).
type TokenState struct {
	Counter         int           `json:"counter"`
	Date            string        `json:"date"`
	ProcessedOrders []int64       `json:"processedOrders"`
	Tokens          map[int64]int `json:"tokens,omitempty"`
}
