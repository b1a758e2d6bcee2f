package model

type UploadEvent struct {
	ID           string `json:"id"`
	SessionID    string `json:"session_id"`
	Filename     string `json:"filename"`
	State        string `json:"state"`
	BytesWritten int64  `json:"bytes_written"`
	TotalSize    int64  `json:"total_size"`
	Reason       string `json:"reason,omitempty"`
	Ctime        int64  `json:"ctime"`
}
