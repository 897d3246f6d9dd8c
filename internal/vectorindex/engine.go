package vectorindex

// Match is a single nearest-neighbour hit returned by an Engine, ordered by
// ascending distance.
type Match struct {
	ID       string
	Distance float64
}

// Engine stores embedding vectors and answers nearest-neighbour queries.
// Engines own only vectors; chunk text, metadata, dedup and filtering are
// the Index's responsibility.
type Engine interface {
	Init(dimension int) error
	Upsert(ids []string, vectors [][]float64) error
	Query(vector []float64, limit int) ([]Match, error)
	Delete(ids []string) error
	Reset() error
}
