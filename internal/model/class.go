package model

// DefaultClasses returns the rooms a fresh cache starts with.
func DefaultClasses() []string {
	return []string{"7A", "7B", "7C", "8A", "8B", "8C", "9A", "9B", "9C"}
}

// ClassRequest is the payload for adding a class.
type ClassRequest struct {
	Name string `json:"name" binding:"required,notblank,max=50"`
}

// RenameClassRequest renames a class and every student in it.
type RenameClassRequest struct {
	NewName string `json:"newName" binding:"required,notblank,max=50"`
}
