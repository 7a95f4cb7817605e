package domain

// DownloadState tracks an on-device model asset. Progress only moves forward
// and Initialized, once set, stays set until Reset.
type DownloadState struct {
	Progress    float64 `json:"progress"`
	Initialized bool    `json:"initialized"`
}

// Advance records download progress, ignoring regressions and clamping to [0,1].
func (s *DownloadState) Advance(p float64) {
	if p > 1 {
		p = 1
	}
	if p > s.Progress {
		s.Progress = p
	}
}

func (s *DownloadState) MarkInitialized() {
	s.Progress = 1
	s.Initialized = true
}

// Reset is used only for explicit re-initialization.
func (s *DownloadState) Reset() {
	s.Progress = 0
	s.Initialized = false
}
