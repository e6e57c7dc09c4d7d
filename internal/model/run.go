package model

// Capture is one screenshot taken during a run: the URL it was taken on and
// the image location on disk.
type Capture struct {
	URL       string `json:"url"`
	ImagePath string `json:"image_path"`
}

// StepResult records what happened on a single navigation step.
type StepResult struct {
	URL         string  `json:"url"`
	LoadSeconds float64 `json:"load_seconds"`
	CaptureFile string  `json:"capture_file,omitempty"`
}
