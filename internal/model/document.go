package model

type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeDocx  FileType = "docx"
	FileTypeTxt   FileType = "txt"
	FileTypeImage FileType = "image"
)

func (t FileType) Valid() bool {
	switch t {
	case FileTypePDF, FileTypeDocx, FileTypeTxt, FileTypeImage:
		return true
	}
	return false
}

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusError      DocumentStatus = "error"
)

// Document tracks one uploaded source file through the ingestion lifecycle.
// ChunkCount and TotalTokens are only meaningful when Status is ready;
// ErrorMessage is only set when Status is error.
type Document struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	FileType     FileType       `json:"file_type"`
	MimeType     string         `json:"mime_type"`
	FileKey      string         `json:"file_key"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ChunkCount   int            `json:"chunk_count"`
	TotalTokens  int            `json:"total_tokens"`
	Ctime        int64          `json:"ctime"`
	Mtime        int64          `json:"mtime"`
}
