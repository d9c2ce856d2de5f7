package source

// Dataset is an ordered sequence of numeric samples feeding the plot.
// A dataset is produced fresh each time a source fires, handed to the
// renderer, and discarded; it carries no identity beyond "most recent".
type Dataset []float64

// Source produces a dataset on demand. Implementations are cheap to
// construct per fire and are called from the session's serialized event
// path; they do not need to be safe for concurrent use unless they share
// a rand source across sessions (see NewSeeded).
type Source interface {
	// Name returns a short lowercase identifier for this source,
	// e.g. "normal", "poisson", "file". Surfaced to the frontend
	// alongside the plot.
	Name() string

	// Generate computes a fresh dataset. Random generators never fail;
	// the file source returns *ParseError on a malformed upload.
	Generate() (Dataset, error)
}
