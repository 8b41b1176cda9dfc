package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/duhman/excalidraw-mcp/internal/patch"
	"github.com/duhman/excalidraw-mcp/internal/scene"
)

// fileIDLength is the number of hex digest characters used for generated
// file ids.
const fileIDLength = 40

// AttachRequest is a binary payload to embed in a document.
type AttachRequest struct {
	// FileID is derived from the content hash when empty.
	FileID   string
	MimeType string
	Payload  []byte
}

// AttachResult reports the stored (or reused) file id.
type AttachResult struct {
	FileID       string `json:"fileId"`
	Deduplicated bool   `json:"deduplicated"`
	FileCount    int    `json:"fileCount"`
	RevisionHash string `json:"revisionHash"`
}

// AttachFile embeds a payload. When a file with identical content is
// already attached, its id is returned and nothing is stored.
func (s *Service) AttachFile(ctx context.Context, session, id string, req AttachRequest) (AttachResult, error) {
	id, err := s.resolve(session, id)
	if err != nil {
		return AttachResult{}, err
	}
	if len(req.Payload) == 0 {
		return AttachResult{}, fmt.Errorf("%w: file payload is empty", scene.ErrInvalidInput)
	}
	if err := s.checkPayload(len(req.Payload), "file payload"); err != nil {
		return AttachResult{}, err
	}
	mimeType := strings.TrimSpace(req.MimeType)
	if mimeType == "" {
		return AttachResult{}, fmt.Errorf("%w: mimeType is required", scene.ErrInvalidInput)
	}
	hash := scene.ContentHash(req.Payload)

	var out AttachResult
	res, err := s.mutate(ctx, id, "attach", func(doc scene.Document) (patch.Result, bool, error) {
		if existing, ok := findByHash(doc.Files, hash); ok {
			out = AttachResult{FileID: existing, Deduplicated: true}
			return patch.Result{Document: doc}, false, nil
		}

		fileID := strings.TrimSpace(req.FileID)
		if fileID == "" {
			fileID = hash[:fileIDLength]
		}
		if _, taken := doc.Files[fileID]; taken {
			return patch.Result{}, false, fmt.Errorf("%w: file id %q is already attached with different content", scene.ErrConflict, fileID)
		}
		out = AttachResult{FileID: fileID}
		return s.applyOps(patch.SetFiles{Files: map[string]scene.FileRecord{
			fileID: {ID: fileID, MimeType: mimeType, DataURL: scene.EncodeDataURL(mimeType, req.Payload)},
		}})(doc)
	})
	if err != nil {
		return AttachResult{}, err
	}
	out.FileCount = res.Document.Metadata.FileCount
	out.RevisionHash = res.Document.Metadata.RevisionHash
	return out, nil
}

// findByHash returns the id of the attached file whose decoded payload
// hashes to hash. Malformed records never match.
func findByHash(files map[string]scene.FileRecord, hash string) (string, bool) {
	ids := make([]string, 0, len(files))
	for k := range files {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	for _, k := range ids {
		_, payload, err := scene.DecodeDataURL(files[k].DataURL)
		if err != nil {
			continue
		}
		if scene.ContentHash(payload) == hash {
			return k, true
		}
	}
	return "", false
}

// DetachFile removes a file and reports whether it was attached. Detaching
// an absent file succeeds without writing.
func (s *Service) DetachFile(ctx context.Context, session, id, fileID string) (bool, error) {
	id, err := s.resolve(session, id)
	if err != nil {
		return false, err
	}
	var removed bool
	_, err = s.mutate(ctx, id, "detach", func(doc scene.Document) (patch.Result, bool, error) {
		if _, ok := doc.Files[fileID]; !ok {
			return patch.Result{Document: doc}, false, nil
		}
		removed = true
		remaining := make(map[string]scene.FileRecord, len(doc.Files)-1)
		for k, f := range doc.Files {
			if k != fileID {
				remaining[k] = f
			}
		}
		return s.applyOps(patch.SetFiles{Files: remaining, Replace: true})(doc)
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}
