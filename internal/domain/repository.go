package domain

// Repository is the git source the CI job builds from.
type Repository struct {
	URL    string
	Branch string
	// Owner and Name are derived from URL for display.
	Owner string
	Name  string
}

// Slug returns "owner/name", or the URL when it could not be parsed.
func (r Repository) Slug() string {
	if r.Owner == "" || r.Name == "" {
		return r.URL
	}
	return r.Owner + "/" + r.Name
}
