package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/watrall/echotrace-whispering-objects/internal/accessibility"
)

type badRequestError string

func (e badRequestError) Error() string { return string(e) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.GetStateSnapshot())
}

func (s *Server) handleResetState(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.ResetState(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"state": s.coordinator.GetStateSnapshot(),
	})
}

func (s *Server) handleNodeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"nodes": s.coordinator.GetHealthSnapshot()})
}

func (s *Server) handlePushConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NodeID  string `json:"node_id"`
		Payload any    `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NodeID == "" {
		writeError(w, http.StatusBadRequest, badRequestError("node_id and payload are required"))
		return
	}

	acknowledged := s.coordinator.PushNodeConfig(body.NodeID, body.Payload, pushConfigTimeout)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"acknowledged": acknowledged,
		"node_id":      body.NodeID,
	})
}

func (s *Server) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PresetName string         `json:"preset_name"`
		Global     map[string]any `json:"global"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, badRequestError("invalid request body"))
		return
	}

	switch {
	case body.PresetName != "":
		if err := s.accessibility.ApplyPreset(body.PresetName); err != nil {
			if errors.Is(err, accessibility.ErrPresetNotFound) {
				writeError(w, http.StatusNotFound, err)
			} else {
				writeError(w, http.StatusInternalServerError, err)
			}
			return
		}
	case len(body.Global) > 0:
		if err := s.accessibility.SetGlobal(body.Global); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, badRequestError("preset_name or global is required"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"global": s.accessibility.Profiles().Global,
		"push":   s.pushRuntimePayloadsToKnownNodes(),
	})
}

func (s *Server) handleAccessibilityOverride(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NodeID    string         `json:"node_id"`
		Overrides map[string]any `json:"overrides"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NodeID == "" {
		writeError(w, http.StatusBadRequest, badRequestError("node_id and overrides are required"))
		return
	}

	if err := s.accessibility.SetPerNodeOverride(body.NodeID, body.Overrides); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	payload := s.accessibility.DeriveRuntimePayloads([]string{body.NodeID})[body.NodeID]
	acknowledged := s.coordinator.PushNodeConfig(body.NodeID, payload, pushConfigTimeout)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"overrides": body.Overrides,
		"push":      map[string]bool{body.NodeID: acknowledged},
	})
}

func (s *Server) handleSelectPack(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PackName string `json:"pack_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PackName == "" {
		writeError(w, http.StatusBadRequest, badRequestError("pack_name is required"))
		return
	}

	manifest, err := s.content.LoadPack(body.PackName)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	health := s.coordinator.GetHealthSnapshot()
	nodeIDs := make([]string, 0, len(health))
	for node := range health {
		nodeIDs = append(nodeIDs, node)
	}
	sort.Strings(nodeIDs)

	push := make(map[string]bool, len(nodeIDs))
	for _, node := range nodeIDs {
		fragment, ok := manifest.GetFragment(node, s.defaultLanguage)
		if !ok {
			push[node] = false
			continue
		}
		payload := map[string]any{"audio": map[string]any{"fragment_file": filepath.Base(fragment)}}
		push[node] = s.coordinator.PushNodeConfig(node, payload, pushConfigTimeout)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"pack": body.PackName,
		"push": push,
	})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	path, ok := s.coordinator.LatestLogPath()
	if !ok {
		writeError(w, http.StatusNotFound, badRequestError("no event log file exists yet"))
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	io.Copy(w, f)
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.coordinator.Summary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleTranscript serves a pack's transcript file, guarded against
// path traversal the way internal/fs.Workspace.resolvePath guards
// session file access: reject any ".." component, clean, join, and
// reject anything that resolves outside the pack's directory.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	pack := r.PathValue("pack")
	file := r.PathValue("file")
	if pack == "" || file == "" || strings.Contains(pack, "..") || strings.Contains(file, "..") {
		http.NotFound(w, r)
		return
	}

	packDir, err := filepath.Abs(filepath.Join(s.content.PacksRoot(), pack))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	resolved, err := filepath.Abs(filepath.Join(packDir, "transcripts", filepath.FromSlash(file)))
	if err != nil || (resolved != packDir && !strings.HasPrefix(resolved, packDir+string(filepath.Separator))) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, resolved)
}

// pushRuntimePayloadsToKnownNodes derives and pushes an accessibility
// runtime payload to every node the hub has seen a heartbeat from.
func (s *Server) pushRuntimePayloadsToKnownNodes() map[string]bool {
	health := s.coordinator.GetHealthSnapshot()
	nodeIDs := make([]string, 0, len(health))
	for node := range health {
		nodeIDs = append(nodeIDs, node)
	}
	sort.Strings(nodeIDs)

	payloads := s.accessibility.DeriveRuntimePayloads(nodeIDs)
	push := make(map[string]bool, len(nodeIDs))
	for _, node := range nodeIDs {
		push[node] = s.coordinator.PushNodeConfig(node, payloads[node], pushConfigTimeout)
	}
	return push
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}
