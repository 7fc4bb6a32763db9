package models

import "strings"

// These structs define the JSON payloads for the renderer's HTTP surface.

// ProcessRequest is the input for the /process endpoint. The source object may
// be given as either "name" (storage event naming) or "objectName".
type ProcessRequest struct {
	Bucket     string `json:"bucket"`
	Name       string `json:"name,omitempty"`
	ObjectName string `json:"objectName,omitempty"`
	HubID      string `json:"hubId"`
	ContentID  string `json:"contentId"`
}

// Object returns the source object path, preferring "name" over "objectName".
func (r *ProcessRequest) Object() string {
	if s := strings.TrimSpace(r.Name); s != "" {
		return s
	}
	return strings.TrimSpace(r.ObjectName)
}

// Normalized returns a copy with surrounding whitespace trimmed from every
// field. The source object is folded into Name.
func (r *ProcessRequest) Normalized() ProcessRequest {
	return ProcessRequest{
		Bucket:    strings.TrimSpace(r.Bucket),
		Name:      r.Object(),
		HubID:     strings.TrimSpace(r.HubID),
		ContentID: strings.TrimSpace(r.ContentID),
	}
}

// Validate reports ErrBadRequest when any of the four required fields is absent or blank.
func (r *ProcessRequest) Validate() error {
	if r == nil ||
		strings.TrimSpace(r.Bucket) == "" ||
		r.Object() == "" ||
		strings.TrimSpace(r.HubID) == "" ||
		strings.TrimSpace(r.ContentID) == "" {
		return ErrBadRequest
	}
	return nil
}

// ProcessResponse is the success body of /process.
type ProcessResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the failure body of every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

// GCSEvent is the subset of a storage object finalize payload the trigger needs.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}
