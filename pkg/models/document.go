package models

// DocumentParams selects the output geometry for one document type. Margins
// are fractions of the crop window, not pixels.
type DocumentParams struct {
	ResX            int     `json:"res_x"`
	ResY            int     `json:"res_y"`
	TopMargin       float64 `json:"top_margin"`
	BottomMargin    float64 `json:"bottom_margin"`
	LeftRightMargin float64 `json:"left_right_margin"`
	DPI             int     `json:"dpi"`
}

// Stats is an aggregate snapshot of the task registry.
type Stats struct {
	Total         int `json:"total"`
	Pending       int `json:"pending"`
	Processing    int `json:"processing"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Authenticated int `json:"authenticated"`
	Anonymous     int `json:"anonymous"`
}
