package models

import "time"

// UntitledName is used when a listing record has no usable file name
const UntitledName = "(Untitled)"

// FileInfo represents a file entry of a remote directory listing
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}
