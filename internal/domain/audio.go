package domain

// AudioRef points at an audio file on local storage.
type AudioRef struct {
	Path   string
	Format string
}

func (a AudioRef) IsZero() bool { return a.Path == "" }
