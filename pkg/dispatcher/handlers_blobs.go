package dispatcher

import (
	"io"
	"mime"
	"net/http"

	"github.com/cuemby/dispatch-core/pkg/apierr"
	"github.com/gorilla/mux"
)

// handlePutBlob implements the Blob Store `put` interface (spec §4.5): the
// raw body is the blob, filename/content-type travel as headers, metadata as
// a best-effort query-string passthrough.
func (s *Server) handlePutBlob(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		writeError(w, apierr.New(apierr.StoreUnavailable, "blob store not configured"))
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<30))
	if err != nil {
		writeError(w, apierr.Wrap(apierr.BadRequest, "reading blob body", err))
		return
	}

	filename := r.Header.Get("X-Blob-Filename")
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filename)
	}

	var metadata map[string]string
	if q := r.URL.Query(); len(q) > 0 {
		metadata = make(map[string]string, len(q))
		for k := range q {
			metadata[k] = q.Get(k)
		}
	}

	ref, err := s.blobs.Put(data, filename, contentType, metadata)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.StoreUnavailable, "put blob", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "ref": ref, "size": len(data)})
}

// handleGetBlob implements the Blob Store `get` interface.
func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		writeError(w, apierr.New(apierr.StoreUnavailable, "blob store not configured"))
		return
	}
	ref := mux.Vars(r)["ref"]

	data, filename, contentType, err := s.blobs.Get(ref)
	if err != nil {
		writeError(w, apierr.New(apierr.NotFound, "blob "+ref))
		return
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if filename != "" {
		w.Header().Set("X-Blob-Filename", filename)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleDeleteBlob implements the Blob Store `delete` interface.
func (s *Server) handleDeleteBlob(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		writeError(w, apierr.New(apierr.StoreUnavailable, "blob store not configured"))
		return
	}
	ref := mux.Vars(r)["ref"]
	if err := s.blobs.Delete(ref); err != nil {
		writeError(w, apierr.Wrap(apierr.StoreUnavailable, "delete blob "+ref, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleListBlobs is the admin list operation (spec §4.5: "a list operation
// for admin").
func (s *Server) handleListBlobs(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		writeError(w, apierr.New(apierr.StoreUnavailable, "blob store not configured"))
		return
	}
	metas, err := s.blobs.List()
	if err != nil {
		writeError(w, apierr.Wrap(apierr.StoreUnavailable, "list blobs", err))
		return
	}
	writeJSON(w, http.StatusOK, metas)
}
