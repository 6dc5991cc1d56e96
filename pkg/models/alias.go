package models

// ProjectAlias maps a project's canonical name to a human-friendly display
// name.
type ProjectAlias struct {
	ProjectName string `json:"project_name"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
	ID          int64  `json:"id"`
}
