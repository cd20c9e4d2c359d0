package domain

// DownloadRepository defines the interface for download persistence
type DownloadRepository interface {
	// Save inserts or updates a download record
	Save(record *DownloadRecord) error

	// Delete deletes a download record by ID
	Delete(id string) error

	// FindByID finds a download record by ID
	FindByID(id string) (*DownloadRecord, error)

	// FindAll returns every persisted download, oldest first
	FindAll() ([]*DownloadRecord, error)
}
