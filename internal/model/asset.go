package model

import "time"

// AssetInfo describes the blob held in a server asset slot.
type AssetInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Mtime       int64  `json:"mtime"`
}

// RawAsset is the exact byte sequence of the last successfully loaded file.
type RawAsset struct {
	Name     string
	Size     int64
	ModTime  time.Time
	MIMEType string
	Data     []byte
}
